// Package scale decodes price-embedded barcodes printed by retail scales.
package scale

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Prefix is the leading digit reserved for in-store weighable labels.
const Prefix = '2'

// Layout selects which label lengths the decoder accepts.
type Layout int

const (
	// Auto accepts both the 12 and the 13 digit label layouts.
	Auto Layout = iota
	// EAN13 accepts only "2 CCCCC I VVVVV D".
	EAN13
	// Short12 accepts only "2 CCCCC VVVVV D".
	Short12
)

// ParseLayout maps a configuration value onto a Layout. Unknown values fall back to Auto.
func ParseLayout(value string) Layout {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "13", "ean13":
		return EAN13
	case "12", "short12":
		return Short12
	default:
		return Auto
	}
}

func (l Layout) String() string {
	switch l {
	case EAN13:
		return "ean13"
	case Short12:
		return "short12"
	default:
		return "auto"
	}
}

// Result is the outcome of decoding a scanned code. The zero value means
// "not a scale code".
type Result struct {
	ProductID      int64
	EmbeddedAmount decimal.Decimal
	IsWeighable    bool
}

// Decoder extracts the product id and the embedded price from scale labels.
type Decoder struct {
	Layout Layout
}

// Decode uses the Auto layout.
func Decode(raw string) Result {
	return Decoder{}.Decode(raw)
}

// Decode never fails: malformed input yields the zero Result. The check digit
// is not validated.
func (d Decoder) Decode(raw string) Result {
	code := strings.TrimSpace(raw)
	if code == "" || code[0] != Prefix || !isDigits(code) {
		return Result{}
	}

	var idField, amountField string
	switch {
	case len(code) == 13 && d.Layout != Short12:
		idField, amountField = code[1:6], code[7:12]
	case len(code) == 12 && d.Layout != EAN13:
		idField, amountField = code[1:6], code[6:11]
	default:
		return Result{}
	}

	id, err := strconv.ParseInt(idField, 10, 64)
	if err != nil {
		return Result{}
	}
	cents, err := strconv.ParseInt(amountField, 10, 64)
	if err != nil {
		return Result{}
	}
	return Result{
		ProductID:      id,
		EmbeddedAmount: decimal.New(cents, -2),
		IsWeighable:    true,
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
