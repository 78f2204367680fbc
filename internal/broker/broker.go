// Package broker lists the brokerages a user can label their portfolio
// with. The choice is cosmetic and has no effect on valuation.
package broker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknown is returned for an id not in the catalog.
var ErrUnknown = errors.New("unknown broker")

// DefaultID is used when no broker was chosen.
const DefaultID = "other"

// Broker is a catalog entry.
type Broker struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

var catalog = []Broker{
	{ID: "col", Name: "COL Financial", Icon: "📊", Color: "#0066CC"},
	{ID: "firstmetro", Name: "First Metro Sec", Icon: "🏦", Color: "#004D40"},
	{ID: "bpi", Name: "BPI Trade", Icon: "💹", Color: "#CC0000"},
	{ID: "metrobank", Name: "Metrobank Securities", Icon: "🔷", Color: "#003399"},
	{ID: "abcap", Name: "AB Capital Securities", Icon: "📈", Color: "#1B5E20"},
	{ID: "philstocks", Name: "Philstocks", Icon: "🇵🇭", Color: "#FF6F00"},
	{ID: "aaasec", Name: "AAA Southeast Equities", Icon: "⚡", Color: "#6A1B9A"},
	{ID: "gotrade", Name: "GoTrade", Icon: "🌐", Color: "#00C853"},
	{ID: "etoro", Name: "eToro", Icon: "🌍", Color: "#4CAF50"},
	{ID: "ibkr", Name: "Interactive Brokers", Icon: "🔴", Color: "#D32F2F"},
	{ID: "webull", Name: "Webull", Icon: "🐂", Color: "#FF5722"},
	{ID: "other", Name: "Other Broker", Icon: "🏢", Color: "#607D8B"},
}

// All returns a copy of the catalog in display order.
func All() []Broker {
	out := make([]Broker, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a broker by id, case-insensitively.
func Lookup(id string) (Broker, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, b := range catalog {
		if b.ID == id {
			return b, nil
		}
	}
	return Broker{}, fmt.Errorf("%w: %q", ErrUnknown, id)
}

// Default returns the fallback catalog entry.
func Default() Broker {
	b, _ := Lookup(DefaultID)
	return b
}
