package search

import "strings"

// exchangeAliases normalizes the spellings feeds use for the same venue.
var exchangeAliases = map[string]string{
	"nasdaq":    "NASDAQ",
	"nasdaqgs":  "NASDAQ",
	"nasdaqgm":  "NASDAQ",
	"nasdaqcm":  "NASDAQ",
	"xnas":      "NASDAQ",
	"nyse":      "NYSE",
	"xnys":      "NYSE",
	"nysearca":  "NYSE ARCA",
	"nyse arca": "NYSE ARCA",
	"arca":      "NYSE ARCA",
	"arcx":      "NYSE ARCA",
	"amex":      "NYSE AMERICAN",
	"nysemkt":   "NYSE AMERICAN",
	"xase":      "NYSE AMERICAN",
	"bats":      "CBOE BZX",
	"cboe":      "CBOE BZX",
	"cboe bzx":  "CBOE BZX",
	"otc":       "OTC",
	"otcmkts":   "OTC",
	"pse":       "PSE",
	"xphs":      "PSE",
}

// NormalizeExchange maps an exchange name or MIC code to its canonical
// spelling. Unknown names are returned trimmed.
func NormalizeExchange(name string) string {
	s := strings.TrimSpace(name)
	if norm, ok := exchangeAliases[strings.ToLower(s)]; ok {
		return norm
	}
	return s
}

type resultKey struct {
	Symbol   string
	Exchange string
}

// Collapse drops repeated (symbol, exchange) pairs, keeping the first
// occurrence and the input order.
func Collapse(results []Result) []Result {
	seen := make(map[resultKey]struct{}, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		key := resultKey{Symbol: r.Symbol, Exchange: r.Exchange}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
