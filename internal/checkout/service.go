package checkout

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/cart"
	"github.com/noah-isme/backend-pdv/internal/common"
	"github.com/noah-isme/backend-pdv/internal/pricing"
)

var (
	// ErrEmptyCart is returned when finalizing a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientTender is returned when cash tendered is below the net total.
	ErrInsufficientTender = errors.New("tendered amount is below the sale total")
	// ErrUnknownMethod is returned for unsupported payment methods.
	ErrUnknownMethod = errors.New("unknown payment method")
)

// SaleRecord is the immutable result of a finalized checkout.
type SaleRecord struct {
	Reference  string            `json:"reference"`
	TillID     int64             `json:"tillId,omitempty"`
	Items      []cart.Line       `json:"items"`
	Customer   *cart.CustomerRef `json:"customer,omitempty"`
	Gross      decimal.Decimal   `json:"gross"`
	Discount   decimal.Decimal   `json:"discount"`
	Net        decimal.Decimal   `json:"net"`
	Method     Method            `json:"method"`
	AmountPaid decimal.Decimal   `json:"amountPaid"`
	Change     decimal.Decimal   `json:"change"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// CanCheckout reports whether the cart may be finalized with the given
// payment. Non-cash methods are assumed authorized for the exact net total.
func CanCheckout(snap cart.Snapshot, method Method, tendered decimal.Decimal) bool {
	return validate(snap, method, tendered) == nil
}

// ComputeChange returns max(0, tendered - net).
func ComputeChange(snap cart.Snapshot, tendered decimal.Decimal) decimal.Decimal {
	return pricing.NonNegative(tendered.Sub(snap.Net()))
}

// AmountPaid is the tendered amount for cash and the net total otherwise.
func AmountPaid(snap cart.Snapshot, method Method, tendered decimal.Decimal) decimal.Decimal {
	if method.IsCash() {
		return tendered
	}
	return snap.Net()
}

// Finalize builds the sale record for the snapshot. The cart itself is left
// untouched; clearing it and persisting the record are the caller's job.
func Finalize(snap cart.Snapshot, method Method, tendered decimal.Decimal, now time.Time) (SaleRecord, error) {
	if err := validate(snap, method, tendered); err != nil {
		return SaleRecord{}, err
	}
	paid := AmountPaid(snap, method, tendered)
	return SaleRecord{
		Reference:  uuid.NewString(),
		Items:      snap.Lines(),
		Customer:   snap.Customer(),
		Gross:      snap.Gross(),
		Discount:   snap.OverallDiscount(),
		Net:        snap.Net(),
		Method:     method,
		AmountPaid: paid,
		Change:     ComputeChange(snap, paid),
		CreatedAt:  now.UTC(),
	}, nil
}

func validate(snap cart.Snapshot, method Method, tendered decimal.Decimal) error {
	if snap.IsEmpty() {
		return validationError("EMPTY_CART", ErrEmptyCart)
	}
	if !method.Valid() {
		return validationError("UNKNOWN_PAYMENT_METHOD", ErrUnknownMethod)
	}
	if method.IsCash() && tendered.LessThan(snap.Net()) {
		return validationError("INSUFFICIENT_TENDER", ErrInsufficientTender)
	}
	return nil
}

func validationError(code string, err error) *common.AppError {
	return common.NewAppError(code, err.Error(), http.StatusUnprocessableEntity, err)
}

// PersistedSale identifies a sale once the remote side has stored it.
type PersistedSale struct {
	ID     int64  `json:"id"`
	Number string `json:"number,omitempty"`
}
