package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"polypaper/internal/advisor"
	polymarketgamma "polypaper/internal/client/polymarket/gamma"
	"polypaper/internal/models"
	"polypaper/internal/repository"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPriceTooLow       = errors.New("price below lottery-ticket floor")
	ErrNotOpen           = errors.New("order is not open")
)

// absolutePriceFloor guards against buying sub-penny lottery tickets no
// matter what the sizer concluded.
const absolutePriceFloor = 0.02

// PriceSource is the order-book lookup surface of the CLOB client.
type PriceSource interface {
	GetPrice(ctx context.Context, tokenID, side string) (decimal.Decimal, error)
	GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// Ledger owns all financial mutations: placing, cancelling and the balance
// invariant. Debit and insert commit together or not at all.
type Ledger struct {
	Repo      repository.Repository
	Clob      PriceSource
	Logger    *zap.Logger
	Tolerance decimal.Decimal
}

// PlaceRequest describes one fill.
type PlaceRequest struct {
	Market         polymarketgamma.Market
	OutcomeIndex   int
	Side           string
	Stake          decimal.Decimal
	Recommendation *advisor.Recommendation
}

// Place fills a simulated order at the freshest available price. The entry
// price is re-read from the order book at fill time; the catalog snapshot
// price is only a fallback.
func (l *Ledger) Place(ctx context.Context, req PlaceRequest) (*models.Order, error) {
	if req.OutcomeIndex < 0 || req.OutcomeIndex >= len(req.Market.Outcomes) {
		return nil, fmt.Errorf("outcome index %d out of range", req.OutcomeIndex)
	}
	if req.Stake.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("stake must be positive")
	}

	price, tokenID := l.freshPrice(ctx, &req.Market, req.OutcomeIndex)
	if price.LessThan(decimal.NewFromFloat(absolutePriceFloor)) {
		return nil, ErrPriceTooLow
	}

	quantity := req.Stake.Div(price).RoundDown(2)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("stake too small for price %s", price.StringFixed(3))
	}
	totalCost := price.Mul(quantity)

	order := &models.Order{
		ID:              uuid.NewString(),
		MarketID:        req.Market.ID,
		ConditionID:     req.Market.ConditionID,
		Question:        req.Market.Question,
		OutcomeIndex:    req.OutcomeIndex,
		Outcome:         req.Market.Outcomes[req.OutcomeIndex],
		Side:            req.Side,
		Price:           price,
		Quantity:        quantity,
		TotalCost:       totalCost,
		PotentialPayout: quantity,
		Status:          models.OrderStatusFilled,
		EndDate:         req.Market.EndTime(),
	}
	if req.Market.Slug != "" {
		slug := req.Market.Slug
		order.Slug = &slug
	}
	if tokenID != "" {
		order.TokenID = &tokenID
	}
	if req.Recommendation != nil {
		if blob, err := json.Marshal(req.Recommendation); err == nil {
			order.Reasoning = blob
		}
	}

	err := l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := l.Repo.DebitBalanceTx(ctx, tx, totalCost)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientFunds
		}
		if err := l.Repo.InsertOrderTx(ctx, tx, order); err != nil {
			return err
		}
		amount := totalCost.Neg()
		return l.Repo.InsertActivityTx(ctx, tx, &models.Activity{
			Type:    models.ActivityOrder,
			Message: fmt.Sprintf("ORDER $%s %s @ %s → %q", totalCost.StringFixed(2), req.Side, price.StringFixed(3), truncate(req.Market.Question, 60)),
			Amount:  &amount,
		})
	})
	if err != nil {
		return nil, err
	}
	if l.Logger != nil {
		l.Logger.Info("order placed",
			zap.String("order_id", order.ID),
			zap.String("market_id", order.MarketID),
			zap.String("side", order.Side),
			zap.String("price", price.StringFixed(3)),
			zap.String("cost", totalCost.StringFixed(2)),
		)
	}
	return order, nil
}

// freshPrice re-reads the chosen outcome's price from the order book: the
// BUY side first, the midpoint when the side quote is unavailable, and the
// catalog snapshot only when the book gives nothing at all.
func (l *Ledger) freshPrice(ctx context.Context, m *polymarketgamma.Market, outcomeIndex int) (decimal.Decimal, string) {
	snapshot := decimal.Zero
	if outcomeIndex < len(m.OutcomePrices) {
		snapshot = decimal.NewFromFloat(m.OutcomePrices[outcomeIndex])
	}
	tokenID := ""
	if outcomeIndex < len(m.ClobTokenIDs) {
		tokenID = m.ClobTokenIDs[outcomeIndex]
	}
	if l.Clob == nil || tokenID == "" {
		return snapshot, tokenID
	}
	fresh, err := l.Clob.GetPrice(ctx, tokenID, "BUY")
	if err == nil && fresh.IsPositive() {
		return fresh, tokenID
	}
	if err != nil && l.Logger != nil {
		l.Logger.Warn("side price fetch failed, trying midpoint", zap.String("token_id", tokenID), zap.Error(err))
	}
	mid, err := l.Clob.GetMidpoint(ctx, tokenID)
	if err == nil && mid.IsPositive() {
		return mid, tokenID
	}
	if err != nil && l.Logger != nil {
		l.Logger.Warn("midpoint fetch failed, using snapshot", zap.String("token_id", tokenID), zap.Error(err))
	}
	return snapshot, tokenID
}

// Cancel closes an open order with zero P&L and refunds its cost in full.
func (l *Ledger) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := l.Repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	if !order.Open() {
		return nil, ErrNotOpen
	}
	now := time.Now().UTC()
	zero := decimal.Zero
	err = l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		rows, err := l.Repo.SettleOrderTx(ctx, tx, order.ID,
			[]string{models.OrderStatusPending, models.OrderStatusFilled},
			map[string]any{
				"status":      models.OrderStatusCancelled,
				"pnl":         zero,
				"resolved_at": now,
			})
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNotOpen
		}
		if err := l.Repo.AdjustBalanceTx(ctx, tx, order.TotalCost, decimal.Zero); err != nil {
			return err
		}
		refund := order.TotalCost
		return l.Repo.InsertActivityTx(ctx, tx, &models.Activity{
			Type:    models.ActivityInfo,
			Message: fmt.Sprintf("Cancelled order, refunded $%s: %q", refund.StringFixed(2), truncate(order.Question, 60)),
			Amount:  &refund,
		})
	})
	if err != nil {
		return nil, err
	}
	order.Status = models.OrderStatusCancelled
	order.PnL = &zero
	order.ResolvedAt = &now
	return order, nil
}

// CheckBalance verifies the ledger invariant
// balance == initial - sum(open cost) + sum(resolved pnl)
// and self-heals drift beyond the tolerance, logging the correction.
func (l *Ledger) CheckBalance(ctx context.Context) (bool, error) {
	portfolio, err := l.Repo.GetPortfolio(ctx)
	if err != nil {
		return false, err
	}
	if portfolio == nil {
		return false, nil
	}
	openCost, err := l.Repo.SumOpenCost(ctx)
	if err != nil {
		return false, err
	}
	resolvedPnL, err := l.Repo.SumResolvedPnL(ctx)
	if err != nil {
		return false, err
	}
	expected := portfolio.InitialBalance.Sub(openCost).Add(resolvedPnL)
	tolerance := l.Tolerance
	if tolerance.LessThanOrEqual(decimal.Zero) {
		tolerance = decimal.NewFromFloat(0.01)
	}
	drift := portfolio.Balance.Sub(expected).Abs()
	if drift.LessThanOrEqual(tolerance) {
		return false, nil
	}
	if l.Logger != nil {
		l.Logger.Warn("balance drift corrected",
			zap.String("stored", portfolio.Balance.StringFixed(4)),
			zap.String("expected", expected.StringFixed(4)),
			zap.String("drift", drift.StringFixed(4)),
		)
	}
	portfolio.Balance = expected
	if err := l.Repo.SavePortfolio(ctx, portfolio); err != nil {
		return false, err
	}
	err = l.Repo.InsertActivity(ctx, &models.Activity{
		Type:    models.ActivityWarning,
		Message: fmt.Sprintf("Balance drift of $%s corrected to $%s", drift.StringFixed(2), expected.StringFixed(2)),
	})
	return true, err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
