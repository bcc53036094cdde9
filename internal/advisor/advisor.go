package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	SideYes  = "YES"
	SideNo   = "NO"
	SideSkip = "SKIP"
)

// Recommendation is one normalized advisory opinion on a market.
type Recommendation struct {
	MarketID   string   `json:"market_id"`
	Side       string   `json:"side"`
	PReal      float64  `json:"p_real"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Sources    []string `json:"sources,omitempty"`
	RiskNotes  string   `json:"risk_notes,omitempty"`
	Repaired   bool     `json:"repaired,omitempty"`
}

// Skip is a market the provider declined to take a view on.
type Skip struct {
	MarketID string `json:"market_id"`
	Reason   string `json:"reason"`
}

// Usage is per-call token accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	CostUSD      float64
}

// Limits are per-provider risk thresholds. Providers known to be
// overconfident carry a higher confidence floor and a tighter stake cap.
type Limits struct {
	MinConfidence    float64
	MinNetEdge       float64
	StakeCapFraction float64
}

// Provider is a pluggable advisory back end. Ask sends one prompt and
// returns the raw completion text plus usage accounting.
type Provider interface {
	Name() string
	Model() string
	Ask(ctx context.Context, prompt string) (string, Usage, error)
	Limits() Limits
}

// Result is the normalized outcome of one batch call.
type Result struct {
	Summary         string
	Recommendations []Recommendation
	Skipped         []Skip
	Usage           Usage
	Raw             string
}

// payload is the JSON contract the prompt demands from every provider.
type payload struct {
	Summary         string `json:"summary"`
	Skipped         []struct {
		MarketID string `json:"market_id"`
		Reason   string `json:"reason"`
	} `json:"skipped"`
	Recommendations []struct {
		MarketID   string   `json:"market_id"`
		Side       string   `json:"side"`
		PReal      float64  `json:"p_real"`
		Confidence float64  `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
		Sources    []string `json:"sources"`
		RiskNotes  string   `json:"risk_notes"`
	} `json:"recommendations"`
}

// parsePayload extracts the single JSON object from free-form completion
// text. Providers wrap it in prose or markdown fences often enough that a
// strict unmarshal of the whole text is not viable.
func parsePayload(text string) (*payload, error) {
	jsonText := extractJSON(text)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var p payload
	if err := json.Unmarshal([]byte(jsonText), &p); err != nil {
		return nil, fmt.Errorf("parse advisory payload: %w", err)
	}
	return &p, nil
}

func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// repairCoherence enforces direction/probability agreement: a YES view must
// believe the true probability sits above the current YES price, a NO view
// below it. A violating recommendation has its side flipped and is marked.
func repairCoherence(rec *Recommendation, yesPrice float64) {
	switch rec.Side {
	case SideYes:
		if rec.PReal < yesPrice {
			rec.Side = SideNo
			rec.Repaired = true
		}
	case SideNo:
		if rec.PReal > yesPrice {
			rec.Side = SideYes
			rec.Repaired = true
		}
	}
}

func normalizeSide(side string) string {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "YES", "Y", "BUY YES":
		return SideYes
	case "NO", "N", "BUY NO":
		return SideNo
	default:
		return SideSkip
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
