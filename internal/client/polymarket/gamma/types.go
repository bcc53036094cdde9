package polymarketgamma

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Market is the subset of the Gamma market payload the bot needs. Gamma is
// loose with types: outcomes and prices frequently arrive as JSON-encoded
// string arrays, and numerics as strings. The custom decoders below absorb
// both shapes.
type Market struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	ConditionID string `json:"conditionId"`
	Slug        string `json:"slug"`
	Category    string `json:"category"`

	Outcomes      StringList `json:"outcomes"`
	OutcomePrices FloatList  `json:"outcomePrices"`
	ClobTokenIDs  StringList `json:"clobTokenIds"`

	Volume       FlexFloat `json:"volume"`
	VolumeNum    FlexFloat `json:"volumeNum"`
	Liquidity    FlexFloat `json:"liquidity"`
	LiquidityNum FlexFloat `json:"liquidityNum"`

	EndDate *FlexTime `json:"endDate"`

	Active bool `json:"active"`
	Closed bool `json:"closed"`

	UMAResolutionStatus string `json:"umaResolutionStatus"`

	Events []MarketEvent `json:"events"`
}

type MarketEvent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// VolumeUSD prefers the numeric field when both are present.
func (m *Market) VolumeUSD() float64 {
	if m.VolumeNum != 0 {
		return float64(m.VolumeNum)
	}
	return float64(m.Volume)
}

func (m *Market) LiquidityUSD() float64 {
	if m.LiquidityNum != 0 {
		return float64(m.LiquidityNum)
	}
	return float64(m.Liquidity)
}

// YesPrice is the current price of the first outcome.
func (m *Market) YesPrice() float64 {
	if len(m.OutcomePrices) == 0 {
		return 0
	}
	return m.OutcomePrices[0]
}

// Resolved reports whether the oracle has officially settled the market.
// "Closed but not resolved" is the dispute window and does not count.
func (m *Market) Resolved() bool {
	return strings.EqualFold(strings.TrimSpace(m.UMAResolutionStatus), "resolved")
}

func (m *Market) EndTime() *time.Time {
	if m.EndDate == nil || m.EndDate.IsZero() {
		return nil
	}
	t := time.Time(*m.EndDate)
	return &t
}

// StringList decodes either a JSON string array or a string containing one.
type StringList []string

func (s *StringList) UnmarshalJSON(b []byte) error {
	var direct []string
	if err := json.Unmarshal(b, &direct); err == nil {
		*s = direct
		return nil
	}
	var encoded string
	if err := json.Unmarshal(b, &encoded); err != nil {
		return err
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		*s = nil
		return nil
	}
	var nested []string
	if err := json.Unmarshal([]byte(encoded), &nested); err != nil {
		return err
	}
	*s = nested
	return nil
}

// FloatList decodes arrays of numbers, arrays of numeric strings, or a
// string containing either.
type FloatList []float64

func (f *FloatList) UnmarshalJSON(b []byte) error {
	var rawItems []json.RawMessage
	if err := json.Unmarshal(b, &rawItems); err == nil {
		out := make([]float64, 0, len(rawItems))
		for _, item := range rawItems {
			var v FlexFloat
			if err := json.Unmarshal(item, &v); err != nil {
				return err
			}
			out = append(out, float64(v))
		}
		*f = out
		return nil
	}
	var encoded string
	if err := json.Unmarshal(b, &encoded); err != nil {
		return err
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		*f = nil
		return nil
	}
	var nested FloatList
	if err := json.Unmarshal([]byte(encoded), &nested); err != nil {
		return err
	}
	*f = nested
	return nil
}

// FlexFloat decodes a number or a numeric string; null and "" become 0.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = 0
		return nil
	}
	var num float64
	if err := json.Unmarshal(b, &num); err == nil {
		*f = FlexFloat(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = FlexFloat(parsed)
	return nil
}

// FlexTime decodes RFC3339 with or without fractional seconds; empty strings
// decode to the zero time.
type FlexTime time.Time

func (t *FlexTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = FlexTime(time.Time{})
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*t = FlexTime(time.Time{})
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = FlexTime(parsed.UTC())
			return nil
		}
	}
	return &time.ParseError{Layout: time.RFC3339, Value: s}
}

func (t FlexTime) IsZero() bool {
	return time.Time(t).IsZero()
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t))
}
