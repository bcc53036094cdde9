package kelly

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polypaper/internal/advisor"
	"polypaper/internal/config"
)

// Result is the sizing verdict for one recommendation. A zero stake always
// carries a human-readable Reject reason; rejections are expected outcomes,
// not errors.
type Result struct {
	Stake         decimal.Decimal
	RawFraction   float64
	Fraction      float64
	ExpectedValue float64
	Reject        string
}

func (r Result) Rejected() bool {
	return r.Reject != ""
}

// Sizer turns normalized recommendations into bounded stakes via capped
// fractional Kelly.
type Sizer struct {
	Config config.KellyConfig
	Logger *zap.Logger
}

// Size computes the stake for one recommendation. batchCostUSD is the
// advisory cost of the whole batch, amortized across its recommendations
// and treated as a cost of doing business in both the net-edge floor and
// the expected value.
func (s *Sizer) Size(rec advisor.Recommendation, yesPrice float64, bankroll decimal.Decimal, batchCostUSD float64, batchSize int, limits advisor.Limits) Result {
	cfg := s.Config
	if rec.Side != advisor.SideYes && rec.Side != advisor.SideNo {
		return reject("side is skip")
	}
	minBankroll := defaultF(cfg.MinBankroll, 5)
	if bankroll.LessThan(decimal.NewFromFloat(minBankroll)) {
		return reject(fmt.Sprintf("bankroll below $%.2f floor", minBankroll))
	}
	minConf := limits.MinConfidence
	if minConf <= 0 {
		minConf = 60
	}
	if rec.Confidence < minConf {
		return reject(fmt.Sprintf("confidence %.0f below %.0f minimum", rec.Confidence, minConf))
	}

	// Price and believed probability of the chosen side.
	price := yesPrice
	p := rec.PReal
	if rec.Side == advisor.SideNo {
		price = 1 - yesPrice
		p = 1 - rec.PReal
	}
	floor := defaultF(cfg.PriceFloor, 0.05)
	ceiling := defaultF(cfg.PriceCeiling, 0.95)
	if price < floor || price > ceiling {
		return reject(fmt.Sprintf("price %.3f outside [%.2f, %.2f]", price, floor, ceiling))
	}
	nearZero := defaultF(cfg.NearZeroPrice, 0.10)
	nearZeroConf := defaultF(cfg.NearZeroMinConf, 85)
	if price < nearZero && rec.Confidence < nearZeroConf {
		return reject(fmt.Sprintf("near-zero price %.3f needs confidence >= %.0f", price, nearZeroConf))
	}

	bank, _ := bankroll.Float64()
	amortized := 0.0
	if batchSize > 0 {
		amortized = batchCostUSD / float64(batchSize)
	}
	netEdge := (p - price) - amortized/bank
	if netEdge < limits.MinNetEdge {
		return reject(fmt.Sprintf("net edge %.3f below %.3f minimum", netEdge, limits.MinNetEdge))
	}

	impliedReturn := (1 - price) / price
	minReturn := defaultF(cfg.MinImpliedReturn, 0.08)
	if impliedReturn < minReturn {
		return reject(fmt.Sprintf("implied return %.3f below %.3f minimum", impliedReturn, minReturn))
	}

	// Raw Kelly: f = (p*b - q)/b with b the net odds of the chosen side.
	b := 1/price - 1
	q := 1 - p
	raw := (p*b - q) / b
	if raw <= 0 {
		return reject("no positive edge after odds")
	}
	fraction := raw * defaultF(cfg.Fraction, 0.5)

	cap := defaultF(cfg.CapFraction, 0.10)
	if limits.StakeCapFraction > 0 && limits.StakeCapFraction < cap {
		cap = limits.StakeCapFraction
	}
	if price < defaultF(cfg.LotteryPriceBelow, 0.15) {
		lotteryCap := defaultF(cfg.LotteryCap, 0.03)
		if lotteryCap < cap {
			cap = lotteryCap
		}
	}
	if fraction > cap {
		fraction = cap
	}

	stake := bankroll.Mul(decimal.NewFromFloat(fraction))
	maxStake := defaultF(cfg.MaxStake, 200)
	if stake.GreaterThan(decimal.NewFromFloat(maxStake)) {
		stake = decimal.NewFromFloat(maxStake)
	}
	// Round down to the smallest tradable unit (one cent).
	stake = stake.RoundDown(2)
	minStake := defaultF(cfg.MinStake, 1)
	if stake.LessThan(decimal.NewFromFloat(minStake)) {
		return reject(fmt.Sprintf("stake below $%.2f minimum", minStake))
	}

	stakeF, _ := stake.Float64()
	ev := p*stakeF*b - q*stakeF - amortized
	res := Result{
		Stake:         stake,
		RawFraction:   raw,
		Fraction:      fraction,
		ExpectedValue: ev,
	}
	if s.Logger != nil {
		s.Logger.Debug("kelly sized",
			zap.String("market_id", rec.MarketID),
			zap.String("side", rec.Side),
			zap.Float64("raw_fraction", raw),
			zap.Float64("fraction", fraction),
			zap.String("stake", stake.StringFixed(2)),
			zap.Float64("expected_value", ev),
		)
	}
	return res
}

func reject(reason string) Result {
	return Result{Stake: decimal.Zero, Reject: reason}
}

func defaultF(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}
