package advisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	polymarketgamma "polypaper/internal/client/polymarket/gamma"
	"polypaper/internal/models"
)

// BuildPrompt renders one batch into a single analyst prompt. The output
// contract is strict so every provider can share the same parser.
func BuildPrompt(now time.Time, bankroll decimal.Decimal, batch []polymarketgamma.Market, openOrders []models.Order) string {
	var b strings.Builder
	b.WriteString("You are an expert prediction market analyst. Find mispriced binary markets.\n\n")
	fmt.Fprintf(&b, "Current UTC time: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Available bankroll: $%s\n\n", bankroll.StringFixed(2))

	if len(openOrders) > 0 {
		b.WriteString("Markets already held (never recommend these):\n")
		for _, o := range openOrders {
			fmt.Fprintf(&b, "- %s [%s]\n", o.MarketID, truncate(o.Question, 60))
		}
		b.WriteString("\n")
	}

	b.WriteString("Markets to analyze:\n")
	for i, m := range batch {
		end := "unknown"
		timeLeft := "unknown"
		if t := m.EndTime(); t != nil {
			end = t.UTC().Format(time.RFC3339)
			timeLeft = t.Sub(now).Round(time.Minute).String()
		}
		fmt.Fprintf(&b, "%d. id=%s\n   question: %s\n   yes_price: %.3f\n   volume: $%.0f liquidity: $%.0f\n   ends: %s (in %s)\n",
			i+1, m.ID, truncate(m.Question, 160), m.YesPrice(), m.VolumeUSD(), m.LiquidityUSD(), end, timeLeft)
	}

	b.WriteString(`
For each market, estimate the true probability of the first (YES) outcome
from base rates and public information. Only recommend a side when your
estimate disagrees meaningfully with the market price.

Respond with exactly one JSON object, no other text:
{
  "summary": "one-line overview",
  "skipped": [{"market_id": "...", "reason": "..."}],
  "recommendations": [
    {
      "market_id": "...",
      "side": "YES" or "NO",
      "p_real": 0.0-1.0,
      "confidence": 0-100,
      "reasoning": "...",
      "sources": ["..."],
      "risk_notes": "..."
    }
  ]
}
`)
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
