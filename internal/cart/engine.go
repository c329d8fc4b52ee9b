package cart

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/catalog"
	"github.com/noah-isme/backend-pdv/internal/pricing"
)

var (
	// ErrLineNotFound is returned when a line index is out of range.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrInvalidQuantity is returned for non-positive quantities or fractional
	// quantities on unit-priced lines.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidDiscount is returned for negative discounts.
	ErrInvalidDiscount = errors.New("invalid discount")
)

// Engine owns the sale in progress. Every mutation replaces the current
// snapshot with a new one; snapshots handed out earlier never change.
type Engine struct {
	mu      sync.Mutex
	current Snapshot
}

// NewEngine returns an engine holding an empty cart.
func NewEngine() *Engine {
	return &Engine{}
}

// Current returns the latest snapshot.
func (e *Engine) Current() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// AddItem appends the product or merges it into the existing line for the
// same product. A positive embedded amount on a weighable product with a
// positive price makes the amount the line subtotal and derives the quantity.
func (e *Engine) AddItem(product catalog.Product, embeddedAmount *decimal.Decimal) Snapshot {
	item := newLine(product, embeddedAmount)

	e.mu.Lock()
	defer e.mu.Unlock()
	lines := e.current.Lines()
	merged := false
	for i := range lines {
		if lines[i].ProductID != item.ProductID {
			continue
		}
		existing := lines[i]
		existing.Quantity = existing.Quantity.Add(item.Quantity)
		existing.ScalePriced = false
		existing.labelAmount = decimal.Zero
		lines[i] = existing.reprice()
		merged = true
		break
	}
	if !merged {
		lines = append(lines, item)
	}
	return e.commit(lines, e.current.discount, e.current.customer)
}

func newLine(product catalog.Product, embeddedAmount *decimal.Decimal) Line {
	price := product.SalePrice
	line := Line{
		ProductID:   product.ID,
		Description: product.Description,
		Unit:        product.Unit,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   price,
		Discount:    decimal.Zero,
		Subtotal:    price,
	}
	if product.IsWeighable() && embeddedAmount != nil && embeddedAmount.IsPositive() && price.IsPositive() {
		line.Quantity = pricing.WeighedQuantity(*embeddedAmount, price)
		line.Subtotal = *embeddedAmount
		line.ScalePriced = true
		line.labelAmount = *embeddedAmount
	}
	return line
}

// RemoveItem drops the line at index. Out of range indexes are ignored.
func (e *Engine) RemoveItem(index int) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	lines := e.current.Lines()
	if index < 0 || index >= len(lines) {
		return e.current
	}
	lines = append(lines[:index], lines[index+1:]...)
	return e.commit(lines, e.current.discount, e.current.customer)
}

// SetQuantity replaces the quantity of a line. Unit-priced lines only accept
// whole quantities. The line is repriced as quantity*price-discount.
func (e *Engine) SetQuantity(index int, qty decimal.Decimal) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	line, ok := e.current.Line(index)
	if !ok {
		return e.current, ErrLineNotFound
	}
	if !qty.IsPositive() {
		return e.current, ErrInvalidQuantity
	}
	if !line.Weighable() && !qty.IsInteger() {
		return e.current, ErrInvalidQuantity
	}
	line.Quantity = qty
	line.ScalePriced = false
	line.labelAmount = decimal.Zero
	lines := e.current.Lines()
	lines[index] = line.reprice()
	return e.commit(lines, e.current.discount, e.current.customer), nil
}

// SetLineDiscount sets the per-line discount and reprices the line.
func (e *Engine) SetLineDiscount(index int, amount decimal.Decimal) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	line, ok := e.current.Line(index)
	if !ok {
		return e.current, ErrLineNotFound
	}
	if amount.IsNegative() {
		return e.current, ErrInvalidDiscount
	}
	line.Discount = amount
	lines := e.current.Lines()
	lines[index] = line.reprice()
	return e.commit(lines, e.current.discount, e.current.customer), nil
}

// SetOverallDiscount sets the cart-level discount. There is no upper bound;
// the net total is clamped at zero instead.
func (e *Engine) SetOverallDiscount(amount decimal.Decimal) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount.IsNegative() {
		return e.current, ErrInvalidDiscount
	}
	return e.commit(e.current.Lines(), amount, e.current.customer), nil
}

// SetCustomer links the sale to a customer; nil unlinks it.
func (e *Engine) SetCustomer(customer *CustomerRef) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ref *CustomerRef
	if customer != nil {
		c := *customer
		ref = &c
	}
	return e.commit(e.current.Lines(), e.current.discount, ref)
}

// Clear resets to an empty cart with no discount and no customer.
func (e *Engine) Clear() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commit(nil, decimal.Zero, nil)
}

// Settle removes a sold snapshot from the cart. When nothing changed since
// sold was taken the cart is cleared. Otherwise only the sold quantities are
// taken out: lines added or grown in the meantime stay, repriced at unit
// price without their earlier discount, and the overall discount and the
// customer are reset for the next sale.
func (e *Engine) Settle(sold Snapshot) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current.version == sold.version {
		return e.commit(nil, decimal.Zero, nil)
	}
	soldQty := make(map[int64]decimal.Decimal, len(sold.lines))
	for _, l := range sold.lines {
		soldQty[l.ProductID] = soldQty[l.ProductID].Add(l.Quantity)
	}
	var rest []Line
	for _, l := range e.current.lines {
		q, ok := soldQty[l.ProductID]
		if !ok {
			rest = append(rest, l)
			continue
		}
		remaining := l.Quantity.Sub(q)
		if !remaining.IsPositive() {
			continue
		}
		l.Quantity = remaining
		l.Discount = decimal.Zero
		l.ScalePriced = false
		l.labelAmount = decimal.Zero
		rest = append(rest, l.reprice())
	}
	return e.commit(rest, decimal.Zero, nil)
}

// commit must be called with mu held.
func (e *Engine) commit(lines []Line, discount decimal.Decimal, customer *CustomerRef) Snapshot {
	e.current = e.current.with(lines, discount, customer)
	return e.current
}
