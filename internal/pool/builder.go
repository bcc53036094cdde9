package pool

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	polymarketgamma "polypaper/internal/client/polymarket/gamma"
	"polypaper/internal/config"
)

// Rejection reasons tracked in the breakdown.
const (
	ReasonAccepted     = "accepted"
	ReasonNoEndDate    = "no_end_date"
	ReasonExpired      = "expired"
	ReasonInactive     = "inactive"
	ReasonTooFar       = "too_far"
	ReasonTooSoon      = "too_soon"
	ReasonLowVolume    = "low_volume"
	ReasonLowLiquidity = "low_liquidity"
	ReasonWideSpread   = "wide_spread"
	ReasonExtremePrice = "extreme_price"
	ReasonJunk         = "junk"
	ReasonAlreadyHeld  = "already_held"
	ReasonNotBinary    = "not_binary"
)

// Breakdown counts pool rejections per reason. Diagnostics only.
type Breakdown map[string]int

func (b Breakdown) Inc(reason string) {
	b[reason]++
}

func (b Breakdown) Fields() []zap.Field {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Int(k, b[k]))
	}
	return fields
}

// minTimeToResolution is the safety buffer: a market expiring sooner than
// this cannot be traded safely.
const minTimeToResolution = 10 * time.Minute

// maxSpreadEstimate is the widest acceptable estimated spread.
const maxSpreadEstimate = 0.05

// weatherSpreadCeiling admits the thinnest spread tier for weather markets.
const weatherSpreadCeiling = 0.08

// junkRegexps excludes low-signal markets (social-media vanity metrics,
// engagement counts) that advisory spend is wasted on.
var junkRegexps = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfollowers?\b`),
	regexp.MustCompile(`(?i)\bsubscribers?\b`),
	regexp.MustCompile(`(?i)\bretweets?\b`),
	regexp.MustCompile(`(?i)\b(video\s+)?views\b`),
	regexp.MustCompile(`(?i)\blikes\b`),
	regexp.MustCompile(`(?i)how many times will .* (tweet|post)`),
}

var junkSubstrings = []string{
	"tiktok",
	"instagram post",
	"twitter post",
	"truth social",
	"say the word",
	"mention",
}

// Builder filters the catalog snapshot down to biddable markets.
type Builder struct {
	Config config.PoolConfig
	Logger *zap.Logger
}

// Build rejects markets sequentially and counts every rejection. An empty
// pool is a valid outcome, never an error.
func (b *Builder) Build(all []polymarketgamma.Market, openMarketIDs []string, now time.Time, bankroll decimal.Decimal) ([]polymarketgamma.Market, Breakdown) {
	breakdown := Breakdown{}
	held := make(map[string]struct{}, len(openMarketIDs))
	for _, id := range openMarketIDs {
		held[id] = struct{}{}
	}

	minVolume, minLiquidity := b.floors(bankroll)
	pool := make([]polymarketgamma.Market, 0, len(all))
	for _, m := range all {
		reason := b.evaluate(&m, held, now, minVolume, minLiquidity)
		breakdown.Inc(reason)
		if reason == ReasonAccepted {
			pool = append(pool, m)
		}
	}
	if b.Logger != nil {
		b.Logger.Info("candidate pool built",
			append([]zap.Field{zap.Int("input", len(all)), zap.Int("pool", len(pool))}, breakdown.Fields()...)...)
	}
	return pool, breakdown
}

func (b *Builder) evaluate(m *polymarketgamma.Market, held map[string]struct{}, now time.Time, minVolume, minLiquidity float64) string {
	end := m.EndTime()
	if end == nil {
		return ReasonNoEndDate
	}
	if !end.After(now) {
		return ReasonExpired
	}
	if m.Closed || !m.Active || m.Resolved() {
		return ReasonInactive
	}
	if len(m.Outcomes) < 2 || len(m.OutcomePrices) != len(m.Outcomes) {
		return ReasonNotBinary
	}
	maxHorizon := b.Config.MaxTimeToRes
	if maxHorizon <= 0 {
		maxHorizon = 90 * 24 * time.Hour
	}
	if end.After(now.Add(maxHorizon)) {
		return ReasonTooFar
	}
	if end.Before(now.Add(minTimeToResolution)) {
		return ReasonTooSoon
	}

	volume := m.VolumeUSD()
	liquidity := m.LiquidityUSD()
	spreadCeiling := maxSpreadEstimate
	if weatherMarket(m) {
		// Weather resolves on objective public data; thin books are fine.
		// The spread gate relaxes with the floors, otherwise the thin books
		// the exception admits would all bounce off the spread tiers.
		minVolume *= 0.2
		minLiquidity *= 0.2
		spreadCeiling = weatherSpreadCeiling
	}
	if volume < minVolume {
		return ReasonLowVolume
	}
	if liquidity < minLiquidity {
		return ReasonLowLiquidity
	}
	if estimateSpread(liquidity) > spreadCeiling {
		return ReasonWideSpread
	}

	price := m.YesPrice()
	floor, ceiling := b.Config.PriceFloor, b.Config.PriceCeiling
	if floor <= 0 {
		floor = 0.05
	}
	if ceiling <= 0 {
		ceiling = 0.95
	}
	if price < floor || price > ceiling {
		return ReasonExtremePrice
	}

	if junkQuestion(m.Question) {
		return ReasonJunk
	}
	if _, ok := held[m.ID]; ok {
		return ReasonAlreadyHeld
	}
	return ReasonAccepted
}

// floors scales the volume/liquidity minimums with bankroll: a larger
// account needs deeper books to exit, capped at 5x the base.
func (b *Builder) floors(bankroll decimal.Decimal) (float64, float64) {
	baseVolume := b.Config.MinVolumeUSD
	if baseVolume <= 0 {
		baseVolume = 10000
	}
	baseLiquidity := b.Config.MinLiquidityUSD
	if baseLiquidity <= 0 {
		baseLiquidity = 5000
	}
	bank, _ := bankroll.Float64()
	scale := bank / 100
	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}
	return baseVolume * scale, baseLiquidity * scale
}

// estimateSpread infers the spread from book depth. Spreads are not
// measured directly; the tiers come from observed depth-to-spread behavior.
func estimateSpread(liquidity float64) float64 {
	switch {
	case liquidity >= 100000:
		return 0.01
	case liquidity >= 50000:
		return 0.02
	case liquidity >= 20000:
		return 0.03
	case liquidity >= 10000:
		return 0.05
	default:
		return 0.08
	}
}

func junkQuestion(question string) bool {
	lower := strings.ToLower(question)
	for _, sub := range junkSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	for _, re := range junkRegexps {
		if re.MatchString(question) {
			return true
		}
	}
	return false
}

func weatherMarket(m *polymarketgamma.Market) bool {
	if strings.Contains(strings.ToLower(m.Category), "weather") {
		return true
	}
	lower := strings.ToLower(m.Question)
	return strings.Contains(lower, "temperature") ||
		strings.Contains(lower, "°f") ||
		strings.Contains(lower, "°c") ||
		strings.Contains(lower, "rainfall") ||
		strings.Contains(lower, "snowfall")
}
