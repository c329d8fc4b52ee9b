// Package till tracks the cash drawer session of a terminal and reconciles
// the counted cash at close time.
package till

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/checkout"
	"github.com/noah-isme/backend-pdv/internal/common"
)

var (
	// ErrSessionClosed is returned when mutating a session that was already closed.
	ErrSessionClosed = errors.New("cash session already closed")
	// ErrInvalidAmount is returned for negative floats or sale amounts.
	ErrInvalidAmount = errors.New("amount must not be negative")
	// ErrUnknownMethod is returned when a sale carries an unsupported payment method.
	ErrUnknownMethod = errors.New("unknown payment method")
)

// ClosingRecord is written once when the session is closed.
type ClosingRecord struct {
	CountedCash decimal.Decimal `json:"countedCash"`
	Expected    decimal.Decimal `json:"expected"`
	Variance    decimal.Decimal `json:"variance"`
	ClosedAt    time.Time       `json:"closedAt"`
}

// Session is a till session: opening float plus per-method sale totals.
type Session struct {
	ID           int64
	Number       int
	OpeningFloat decimal.Decimal
	OpenedAt     time.Time

	totals    map[checkout.Method]decimal.Decimal
	saleCount int
	closing   *ClosingRecord
}

// Open starts a session with the supplied opening float.
func Open(id int64, number int, openingFloat decimal.Decimal, now time.Time) (*Session, error) {
	if openingFloat.IsNegative() {
		return nil, stateError("INVALID_AMOUNT", http.StatusUnprocessableEntity, ErrInvalidAmount)
	}
	return &Session{
		ID:           id,
		Number:       number,
		OpeningFloat: openingFloat,
		OpenedAt:     now.UTC(),
		totals:       map[checkout.Method]decimal.Decimal{},
	}, nil
}

// Restore rebuilds an open session from totals accumulated elsewhere, e.g. a
// session reopened after a terminal restart.
func Restore(id int64, number int, openingFloat decimal.Decimal, openedAt time.Time, totals map[checkout.Method]decimal.Decimal, saleCount int) (*Session, error) {
	s, err := Open(id, number, openingFloat, openedAt)
	if err != nil {
		return nil, err
	}
	for method, amount := range totals {
		if !method.Valid() {
			return nil, stateError("UNKNOWN_PAYMENT_METHOD", http.StatusUnprocessableEntity, ErrUnknownMethod)
		}
		if amount.IsNegative() {
			return nil, stateError("INVALID_AMOUNT", http.StatusUnprocessableEntity, ErrInvalidAmount)
		}
		s.totals[method] = amount
	}
	if saleCount > 0 {
		s.saleCount = saleCount
	}
	return s, nil
}

// IsClosed reports whether the closing record is present.
func (s *Session) IsClosed() bool {
	return s.closing != nil
}

// ApplySale accumulates a completed sale's payment into the session.
func (s *Session) ApplySale(method checkout.Method, amount decimal.Decimal) error {
	if s.IsClosed() {
		return stateError("SESSION_CLOSED", http.StatusConflict, ErrSessionClosed)
	}
	if !method.Valid() {
		return stateError("UNKNOWN_PAYMENT_METHOD", http.StatusUnprocessableEntity, ErrUnknownMethod)
	}
	if amount.IsNegative() {
		return stateError("INVALID_AMOUNT", http.StatusUnprocessableEntity, ErrInvalidAmount)
	}
	if s.totals == nil {
		s.totals = map[checkout.Method]decimal.Decimal{}
	}
	s.totals[method] = s.totals[method].Add(amount)
	s.saleCount++
	return nil
}

// Total returns the accumulated amount for one payment method.
func (s *Session) Total(method checkout.Method) decimal.Decimal {
	return s.totals[method]
}

// TotalSales sums every payment method.
func (s *Session) TotalSales() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range s.totals {
		sum = sum.Add(v)
	}
	return sum
}

// SaleCount is the number of sales applied to the session.
func (s *Session) SaleCount() int {
	return s.saleCount
}

// ExpectedCashOnHand is the opening float plus cash sales. Card, pix and
// other methods never reach the physical drawer.
func (s *Session) ExpectedCashOnHand() decimal.Decimal {
	return s.OpeningFloat.Add(s.totals[checkout.MethodCash])
}

// Closing returns a copy of the closing record, nil while open.
func (s *Session) Closing() *ClosingRecord {
	if s.closing == nil {
		return nil
	}
	rec := *s.closing
	return &rec
}

// Close reconciles counted cash against the expected amount and closes the
// session. A non-zero variance is reported, not rejected.
func (s *Session) Close(countedCash decimal.Decimal, now time.Time) (ClosingRecord, error) {
	if s.IsClosed() {
		return ClosingRecord{}, stateError("SESSION_CLOSED", http.StatusConflict, ErrSessionClosed)
	}
	if countedCash.IsNegative() {
		return ClosingRecord{}, stateError("INVALID_AMOUNT", http.StatusUnprocessableEntity, ErrInvalidAmount)
	}
	expected := s.ExpectedCashOnHand()
	rec := ClosingRecord{
		CountedCash: countedCash,
		Expected:    expected,
		Variance:    countedCash.Sub(expected),
		ClosedAt:    now.UTC(),
	}
	s.closing = &rec
	return rec, nil
}

// View is the read-only presentation shape of a session.
type View struct {
	ID                 int64                               `json:"id"`
	Number             int                                 `json:"number"`
	OpeningFloat       decimal.Decimal                     `json:"openingFloat"`
	OpenedAt           time.Time                           `json:"openedAt"`
	Totals             map[checkout.Method]decimal.Decimal `json:"totals"`
	TotalSales         decimal.Decimal                     `json:"totalSales"`
	SaleCount          int                                 `json:"saleCount"`
	ExpectedCashOnHand decimal.Decimal                     `json:"expectedCashOnHand"`
	Closing            *ClosingRecord                      `json:"closing,omitempty"`
}

// View copies the session state for rendering.
func (s *Session) View() View {
	totals := make(map[checkout.Method]decimal.Decimal, len(checkout.Methods()))
	for _, m := range checkout.Methods() {
		totals[m] = s.totals[m]
	}
	return View{
		ID:                 s.ID,
		Number:             s.Number,
		OpeningFloat:       s.OpeningFloat,
		OpenedAt:           s.OpenedAt,
		Totals:             totals,
		TotalSales:         s.TotalSales(),
		SaleCount:          s.saleCount,
		ExpectedCashOnHand: s.ExpectedCashOnHand(),
		Closing:            s.Closing(),
	}
}

func stateError(code string, status int, err error) *common.AppError {
	return common.NewAppError(code, err.Error(), status, err)
}
