package catalog

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNegativePrice is returned by Product.Validate for prices below zero.
var ErrNegativePrice = errors.New("catalog: sale price must not be negative")

// Unit is the unit of measure a product is sold in.
type Unit string

const (
	UnitPiece    Unit = "PC"
	UnitUnit     Unit = "UN"
	UnitKilogram Unit = "KG"
	UnitLiter    Unit = "LT"
	UnitMeter    Unit = "MT"
	UnitBox      Unit = "CX"
)

// legacyUnitCodes maps the integer codes some API versions emit.
var legacyUnitCodes = []Unit{UnitUnit, UnitKilogram, UnitLiter, UnitMeter, UnitBox, UnitPiece}

// ParseUnit normalises a unit code. Unknown values fall back to UnitUnit.
func ParseUnit(value string) Unit {
	code := strings.ToUpper(strings.TrimSpace(value))
	switch Unit(code) {
	case UnitUnit, UnitKilogram, UnitLiter, UnitMeter, UnitBox, UnitPiece:
		return Unit(code)
	}
	if n, err := strconv.Atoi(code); err == nil && n >= 0 && n < len(legacyUnitCodes) {
		return legacyUnitCodes[n]
	}
	return UnitUnit
}

// IsWeighable reports whether quantities in this unit may be fractional and
// priced from scale labels.
func (u Unit) IsWeighable() bool {
	switch u {
	case UnitKilogram, UnitLiter, UnitMeter:
		return true
	default:
		return false
	}
}

// UnmarshalJSON accepts both string and integer unit codes.
func (u *Unit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*u = ParseUnit(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*u = ParseUnit(strconv.Itoa(n))
	return nil
}

// Product is a read-only catalog record.
type Product struct {
	ID          int64           `json:"id"`
	Barcode     string          `json:"barcode,omitempty"`
	Description string          `json:"description"`
	Unit        Unit            `json:"unit"`
	SalePrice   decimal.Decimal `json:"salePrice"`
}

// Validate checks the catalog invariants the cart relies on.
func (p Product) Validate() error {
	if p.SalePrice.IsNegative() {
		return ErrNegativePrice
	}
	return nil
}

// IsWeighable is derived from the unit of measure.
func (p Product) IsWeighable() bool {
	return p.Unit.IsWeighable()
}
