package pricing

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places kept for currency totals.
const MoneyPlaces = 2

// QuantityPlaces is the precision used for weighed quantities.
const QuantityPlaces = 3

// Summary aggregates computed pricing components for a cart.
type Summary struct {
	Gross    decimal.Decimal
	Discount decimal.Decimal
	Net      decimal.Decimal
}

// Compute sums the line subtotals, rounds the gross amount to cents and
// subtracts the overall discount, clamping the net total at zero.
func Compute(subtotals []decimal.Decimal, discount decimal.Decimal) Summary {
	gross := decimal.Zero
	for _, st := range subtotals {
		gross = gross.Add(st)
	}
	gross = gross.Round(MoneyPlaces)
	net := gross.Sub(discount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return Summary{
		Gross:    gross,
		Discount: discount,
		Net:      net,
	}
}

// WeighedQuantity derives the quantity represented by a scale label amount.
// The quotient is rounded once, half away from zero, at QuantityPlaces. The
// caller guarantees a positive unit price.
func WeighedQuantity(amount, unitPrice decimal.Decimal) decimal.Decimal {
	return amount.DivRound(unitPrice, QuantityPlaces)
}

// LineSubtotal returns qty*unitPrice-discount.
func LineSubtotal(qty, unitPrice, discount decimal.Decimal) decimal.Decimal {
	return qty.Mul(unitPrice).Sub(discount)
}

// NonNegative clamps negative values to zero.
func NonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
