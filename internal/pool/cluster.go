package pool

import (
	"regexp"
	"strings"

	polymarketgamma "polypaper/internal/client/polymarket/gamma"
)

// Diversification buckets, in fixed round-robin priority order.
var bucketOrder = []string{
	"politics",
	"crypto",
	"weather",
	"finance",
	"sports",
	"entertainment",
	"other",
}

var (
	numberRe     = regexp.MustCompile(`[-+]?\d[\d,.]*`)
	unitRe       = regexp.MustCompile(`(?i)\b(usd|cents?|dollars?|bps|degrees?|inches|mph|km|percent|pts?)\b|[°%$€£]`)
	punctRe      = regexp.MustCompile(`[^\p{L}\s]`)
	spaceRe      = regexp.MustCompile(`\s+`)
	comparatorRe = regexp.MustCompile(`(?i)\b(above|below|between|over|under|at least|at most|more than|less than|or (higher|lower)|higher|lower|up|down)\b`)
)

// ClusterKey normalizes a question into a signature that collapses
// threshold variants of the same event: digits and units are stripped so
// "NYC high 41" and "NYC high 42-43" share a key.
func ClusterKey(question string) string {
	s := strings.ToLower(question)
	s = numberRe.ReplaceAllString(s, " ")
	s = unitRe.ReplaceAllString(s, " ")
	s = punctRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// BroadClusterKey additionally strips comparative wording, catching
// correlated markets that phrase the same event in opposite directions.
func BroadClusterKey(question string) string {
	s := ClusterKey(question)
	s = comparatorRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// Dedupe keeps the highest-volume member of each narrow cluster. Running
// it on an already-deduped pool returns the pool unchanged.
func Dedupe(pool []polymarketgamma.Market) []polymarketgamma.Market {
	best := make(map[string]int, len(pool))
	out := make([]polymarketgamma.Market, 0, len(pool))
	for _, m := range pool {
		key := ClusterKey(m.Question)
		idx, ok := best[key]
		if !ok {
			best[key] = len(out)
			out = append(out, m)
			continue
		}
		if m.VolumeUSD() > out[idx].VolumeUSD() {
			out[idx] = m
		}
	}
	return out
}

// DropHeldClusters removes any candidate whose broad cluster overlaps an
// open position, preventing correlated double-exposure.
func DropHeldClusters(pool []polymarketgamma.Market, openQuestions []string) []polymarketgamma.Market {
	if len(openQuestions) == 0 {
		return pool
	}
	held := make(map[string]struct{}, len(openQuestions))
	for _, q := range openQuestions {
		held[BroadClusterKey(q)] = struct{}{}
	}
	out := make([]polymarketgamma.Market, 0, len(pool))
	for _, m := range pool {
		if _, ok := held[BroadClusterKey(m.Question)]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Diversify fills a shortlist of at most maxSize markets by round-robin
// over category buckets so no single topic consumes the advisory budget.
// bucketCap limits each bucket's total contribution; <=0 means no cap.
func Diversify(pool []polymarketgamma.Market, maxSize, bucketCap int) []polymarketgamma.Market {
	if maxSize <= 0 || len(pool) == 0 {
		return nil
	}
	buckets := make(map[string][]polymarketgamma.Market, len(bucketOrder))
	for _, m := range pool {
		cat := Categorize(&m)
		buckets[cat] = append(buckets[cat], m)
	}
	shortlist := make([]polymarketgamma.Market, 0, maxSize)
	taken := make(map[string]int, len(bucketOrder))
	for len(shortlist) < maxSize {
		progressed := false
		for _, cat := range bucketOrder {
			if len(shortlist) >= maxSize {
				break
			}
			if bucketCap > 0 && taken[cat] >= bucketCap {
				continue
			}
			items := buckets[cat]
			if len(items) == 0 {
				continue
			}
			shortlist = append(shortlist, items[0])
			buckets[cat] = items[1:]
			taken[cat]++
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return shortlist
}

// Categorize maps a market to a coarse diversification bucket using the
// catalog category first and question keywords as fallback.
func Categorize(m *polymarketgamma.Market) string {
	cat := strings.ToLower(m.Category)
	question := strings.ToLower(m.Question)
	switch {
	case containsAny(cat, "politic", "election", "geopolit") || containsAny(question, "election", "president", "senate", "congress", "parliament"):
		return "politics"
	case containsAny(cat, "crypto") || containsAny(question, "bitcoin", "btc", "ethereum", "eth ", "solana", "crypto"):
		return "crypto"
	case containsAny(cat, "weather", "climate") || containsAny(question, "temperature", "°f", "°c", "rainfall", "snowfall", "hurricane"):
		return "weather"
	case containsAny(cat, "finance", "economy", "business") || containsAny(question, "fed ", "interest rate", "inflation", "s&p", "nasdaq", "gdp"):
		return "finance"
	case containsAny(cat, "sport") || containsAny(question, "nba", "nfl", "mlb", "premier league", "championship", "match", "game "):
		return "sports"
	case containsAny(cat, "entertainment", "culture", "pop") || containsAny(question, "movie", "album", "oscar", "grammy", "box office"):
		return "entertainment"
	default:
		return "other"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
