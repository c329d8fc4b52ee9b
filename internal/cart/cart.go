package cart

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/catalog"
	"github.com/noah-isme/backend-pdv/internal/pricing"
)

// Line is a single product row of the sale in progress.
type Line struct {
	ProductID   int64           `json:"productId"`
	Description string          `json:"description"`
	Unit        catalog.Unit    `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Discount    decimal.Decimal `json:"discount"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	// ScalePriced marks lines whose subtotal came from a scale label. For
	// those lines the label amount, not quantity*price, is authoritative.
	ScalePriced bool `json:"scalePriced"`
	labelAmount decimal.Decimal
}

// Weighable reports whether the line accepts fractional quantities.
func (l Line) Weighable() bool {
	return l.Unit.IsWeighable()
}

func (l Line) reprice() Line {
	if l.ScalePriced {
		l.Subtotal = l.labelAmount.Sub(l.Discount)
		return l
	}
	l.Subtotal = pricing.LineSubtotal(l.Quantity, l.UnitPrice, l.Discount)
	return l
}

// CustomerRef links the sale to a registered customer.
type CustomerRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Snapshot is an immutable view of the cart. Engines hand out snapshots and
// replace them wholesale on every mutation.
type Snapshot struct {
	version  uint64
	lines    []Line
	discount decimal.Decimal
	summary  pricing.Summary
	customer *CustomerRef
}

// Version increases by one with every mutation.
func (s Snapshot) Version() uint64 { return s.version }

// Lines returns a copy of the line items in display order.
func (s Snapshot) Lines() []Line {
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Len returns the number of lines.
func (s Snapshot) Len() int { return len(s.lines) }

// IsEmpty reports whether the cart has no lines.
func (s Snapshot) IsEmpty() bool { return len(s.lines) == 0 }

// Line returns the line at index i.
func (s Snapshot) Line(i int) (Line, bool) {
	if i < 0 || i >= len(s.lines) {
		return Line{}, false
	}
	return s.lines[i], true
}

// OverallDiscount is the cart-level discount.
func (s Snapshot) OverallDiscount() decimal.Decimal { return s.discount }

// Gross is the sum of line subtotals rounded to cents.
func (s Snapshot) Gross() decimal.Decimal { return s.summary.Gross }

// Net is max(0, gross - overall discount).
func (s Snapshot) Net() decimal.Decimal { return s.summary.Net }

// Customer returns the linked customer, if any.
func (s Snapshot) Customer() *CustomerRef {
	if s.customer == nil {
		return nil
	}
	c := *s.customer
	return &c
}

// View is the JSON shape handed to the presentation layer.
type View struct {
	Version  uint64          `json:"version"`
	Lines    []Line          `json:"lines"`
	Discount decimal.Decimal `json:"discount"`
	Gross    decimal.Decimal `json:"gross"`
	Net      decimal.Decimal `json:"net"`
	Customer *CustomerRef    `json:"customer,omitempty"`
}

// View renders the snapshot for presentation.
func (s Snapshot) View() View {
	return View{
		Version:  s.version,
		Lines:    s.Lines(),
		Discount: s.discount,
		Gross:    s.summary.Gross,
		Net:      s.summary.Net,
		Customer: s.Customer(),
	}
}

// with builds the next snapshot from the given lines, recomputing totals.
func (s Snapshot) with(lines []Line, discount decimal.Decimal, customer *CustomerRef) Snapshot {
	subtotals := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		subtotals[i] = l.Subtotal
	}
	return Snapshot{
		version:  s.version + 1,
		lines:    lines,
		discount: discount,
		summary:  pricing.Compute(subtotals, discount),
		customer: customer,
	}
}
