package bingx

import (
	"bytes"

	"github.com/shopspring/decimal"
)

// number decodes a JSON number or numeric string. Empty strings and null
// decode as zero.
type number struct {
	decimal.Decimal
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		n.Decimal = decimal.Zero
		return nil
	}
	return n.Decimal.UnmarshalJSON(b)
}

// Float returns the value as float64.
func (n number) Float() float64 {
	return n.InexactFloat64()
}
