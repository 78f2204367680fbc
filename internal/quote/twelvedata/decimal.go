package twelvedata

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// flexDecimal accepts a JSON number or a string-encoded number. Values that
// are absent, null, empty or unparseable leave it invalid instead of failing
// the whole decode; the feed sends all of these.
type flexDecimal struct {
	decimal.NullDecimal
}

func (f *flexDecimal) UnmarshalJSON(data []byte) error {
	f.Valid = false
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	if raw == "" || strings.EqualFold(raw, "N/A") {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	f.NullDecimal = decimal.NewNullDecimal(d)
	return nil
}

// flexBool accepts true/false or their string forms.
type flexBool struct {
	Value bool
	Valid bool
}

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`)) {
	case "true", "1":
		*f = flexBool{Value: true, Valid: true}
	case "false", "0":
		*f = flexBool{Value: false, Valid: true}
	default:
		*f = flexBool{}
	}
	return nil
}
