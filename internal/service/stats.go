package service

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polypaper/internal/models"
	"polypaper/internal/repository"
)

// BotStats is the dashboard summary of the bot's performance so far.
type BotStats struct {
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	TotalPnLPct    float64         `json:"total_pnl_pct"`

	OpenOrders    int             `json:"open_orders"`
	OpenCost      decimal.Decimal `json:"open_cost"`
	ResolvedCount int             `json:"resolved_count"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	WinRate       float64         `json:"win_rate"`

	AvgBet     decimal.Decimal `json:"avg_bet"`
	BestTrade  decimal.Decimal `json:"best_trade"`
	WorstTrade decimal.Decimal `json:"worst_trade"`
	Sharpe     float64         `json:"sharpe"`

	AdvisoryCalls     int64           `json:"advisory_calls"`
	AdvisoryCostTotal decimal.Decimal `json:"advisory_cost_total"`
	AdvisoryCostToday decimal.Decimal `json:"advisory_cost_today"`
	RunwayDays        float64         `json:"runway_days"`
}

// StatsService computes BotStats on demand and records hourly balance
// snapshots for the dashboard chart.
type StatsService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// resolvedWindow bounds the resolved-trade history behind win rate, Sharpe
// and best/worst. Older trades age out of those figures; lifetime P&L stays
// exact because it comes off the portfolio row, not this list.
const resolvedWindow = 500

// Compute aggregates the portfolio, order history and advisory spend into
// one snapshot. Resolved trades drive win rate, Sharpe and best/worst.
func (s *StatsService) Compute(ctx context.Context) (*BotStats, error) {
	portfolio, err := s.Repo.GetPortfolio(ctx)
	if err != nil {
		return nil, err
	}
	stats := &BotStats{
		BestTrade:  decimal.Zero,
		WorstTrade: decimal.Zero,
	}
	if portfolio != nil {
		stats.Balance = portfolio.Balance
		stats.InitialBalance = portfolio.InitialBalance
		stats.TotalPnL = portfolio.TotalPnL
		if portfolio.InitialBalance.IsPositive() {
			pct, _ := portfolio.TotalPnL.Div(portfolio.InitialBalance).Mul(decimal.NewFromInt(100)).Float64()
			stats.TotalPnLPct = pct
		}
	}

	open, err := s.Repo.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	stats.OpenOrders = len(open)
	openCost := decimal.Zero
	totalBet := decimal.Zero
	bets := 0
	for _, o := range open {
		openCost = openCost.Add(o.TotalCost)
		totalBet = totalBet.Add(o.TotalCost)
		bets++
	}
	stats.OpenCost = openCost

	resolved, err := s.Repo.ListResolvedOrders(ctx, resolvedWindow)
	if err != nil {
		return nil, err
	}
	stats.ResolvedCount = len(resolved)
	var pnls []float64
	for _, o := range resolved {
		totalBet = totalBet.Add(o.TotalCost)
		bets++
		if o.Status == models.OrderStatusWon {
			stats.Wins++
		} else {
			stats.Losses++
		}
		if o.PnL == nil {
			continue
		}
		pnl := *o.PnL
		pnlF, _ := pnl.Float64()
		pnls = append(pnls, pnlF)
		if pnl.GreaterThan(stats.BestTrade) {
			stats.BestTrade = pnl
		}
		if pnl.LessThan(stats.WorstTrade) {
			stats.WorstTrade = pnl
		}
	}
	if stats.ResolvedCount > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.ResolvedCount)
	}
	if bets > 0 {
		stats.AvgBet = totalBet.Div(decimal.NewFromInt(int64(bets))).Round(2)
	} else {
		stats.AvgBet = decimal.Zero
	}
	stats.Sharpe = sharpe(pnls)

	summary, err := s.Repo.SumAdvisoryCosts(ctx)
	if err != nil {
		return nil, err
	}
	stats.AdvisoryCalls = summary.Calls
	stats.AdvisoryCostTotal = summary.CostUSD

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	today, err := s.Repo.SumAdvisoryCostsSince(ctx, dayStart)
	if err != nil {
		return nil, err
	}
	stats.AdvisoryCostToday = today
	if today.IsPositive() && portfolio != nil {
		runway, _ := portfolio.Balance.Div(today).Float64()
		stats.RunwayDays = math.Floor(runway)
	}
	return stats, nil
}

// sharpe is the annualized ratio of mean to standard deviation of resolved
// trade P&Ls. Fewer than two samples yields zero.
func sharpe(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range pnls {
		mean += v
	}
	mean /= float64(len(pnls))
	variance := 0.0
	for _, v := range pnls {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(pnls) - 1)
	if variance <= 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(252)
}

// RecordBalancePoint appends the current balance to the history series.
func (s *StatsService) RecordBalancePoint(ctx context.Context) error {
	portfolio, err := s.Repo.GetPortfolio(ctx)
	if err != nil {
		return err
	}
	if portfolio == nil {
		return nil
	}
	return s.Repo.InsertBalancePoint(ctx, &models.BalancePoint{
		Balance:    portfolio.Balance,
		RecordedAt: time.Now().UTC(),
	})
}

// PruneActivities trims the activity log to its retention window.
func (s *StatsService) PruneActivities(ctx context.Context, keep int) error {
	if keep <= 0 {
		keep = 500
	}
	removed, err := s.Repo.PruneActivities(ctx, keep)
	if err != nil {
		return err
	}
	if removed > 0 && s.Logger != nil {
		s.Logger.Info("activity log pruned", zap.Int64("removed", removed), zap.Int("keep", keep))
	}
	return nil
}
