// Package terminal runs one checkout lane: it owns the cart and the till
// session and drives the scan, finalize and till flows against the remote
// collaborators.
package terminal

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/cart"
	"github.com/noah-isme/backend-pdv/internal/catalog"
	"github.com/noah-isme/backend-pdv/internal/checkout"
	"github.com/noah-isme/backend-pdv/internal/common"
	"github.com/noah-isme/backend-pdv/internal/events"
	"github.com/noah-isme/backend-pdv/internal/obs"
	"github.com/noah-isme/backend-pdv/internal/till"
)

var (
	// ErrNoOpenTill is returned when a sale or a closing needs a till session and none is open.
	ErrNoOpenTill = errors.New("no till session is open")
	// ErrTillAlreadyOpen is returned when opening a till while one is open.
	ErrTillAlreadyOpen = errors.New("a till session is already open")
	// ErrReasonRequired is returned when voiding a sale without a reason.
	ErrReasonRequired = errors.New("a reason is required to cancel a sale")
)

// SaleSubmitter persists finalized sales.
type SaleSubmitter interface {
	Submit(ctx context.Context, rec checkout.SaleRecord) (checkout.PersistedSale, error)
}

// SaleCanceler voids sales that were already persisted.
type SaleCanceler interface {
	Cancel(ctx context.Context, saleID int64, reason string) error
}

// TillStore keeps till sessions on the remote side.
type TillStore interface {
	GetOpenSession(ctx context.Context) (*till.Session, error)
	Open(ctx context.Context, openingFloat decimal.Decimal) (*till.Session, error)
	Close(ctx context.Context, id int64) error
}

// Payment is the method and tendered amount picked for the current sale.
type Payment struct {
	Method   checkout.Method `json:"method"`
	Tendered decimal.Decimal `json:"tendered"`
}

// PaymentView is Payment plus what it means for the current cart.
type PaymentView struct {
	Payment
	Change      decimal.Decimal `json:"change"`
	CanFinalize bool            `json:"canFinalize"`
}

// ScanResult is what the lane shows after a scan or typed search.
type ScanResult struct {
	Term       string            `json:"term"`
	Outcome    catalog.Outcome   `json:"outcome"`
	Strategy   catalog.Strategy  `json:"strategy,omitempty"`
	Product    *catalog.Product  `json:"product,omitempty"`
	Candidates []catalog.Product `json:"candidates,omitempty"`
	Cart       cart.View         `json:"cart"`
}

// Receipt is returned by a successful finalize.
type Receipt struct {
	Sale      checkout.SaleRecord    `json:"sale"`
	Persisted checkout.PersistedSale `json:"persisted"`
	Till      till.View              `json:"till"`
}

// Options wires a Terminal.
type Options struct {
	Resolver catalog.Resolver
	Sales    SaleSubmitter
	Canceler SaleCanceler
	Tills    TillStore
	Bus      *events.Bus
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Terminal is a single lane. Cart mutations are serialised by the cart
// engine; mu guards the till session and the pending payment and keeps
// finalize and till transitions from interleaving.
type Terminal struct {
	cart     *cart.Engine
	resolver catalog.Resolver
	sales    SaleSubmitter
	canceler SaleCanceler
	tills    TillStore
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	session *till.Session
	payment Payment
	pending *pendingSale
}

// pendingSale keeps the reference of a finalize attempt that did not
// complete, so a retry of the same cart and payment reuses it as the
// Idempotency-Key.
type pendingSale struct {
	version   uint64
	payment   Payment
	reference string
}

func (p *pendingSale) matches(version uint64, payment Payment) bool {
	return p != nil && p.version == version &&
		p.payment.Method == payment.Method && p.payment.Tendered.Equal(payment.Tendered)
}

// New builds a lane with an empty cart and no till session.
func New(opts Options) *Terminal {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Terminal{
		cart:     cart.NewEngine(),
		resolver: opts.Resolver,
		sales:    opts.Sales,
		canceler: opts.Canceler,
		tills:    opts.Tills,
		bus:      opts.Bus,
		logger:   opts.Logger,
		now:      now,
		payment:  Payment{Method: checkout.MethodCash, Tendered: decimal.Zero},
	}
}

// Cart returns the current cart view.
func (t *Terminal) Cart() cart.View {
	return t.cart.Current().View()
}

// Scan resolves a scanned code or typed term and adds a single match to the
// cart. The lookup runs without holding any lock; its result is applied to
// whatever cart is current when it completes.
func (t *Terminal) Scan(ctx context.Context, term string) (ScanResult, error) {
	res, err := t.resolver.Resolve(ctx, term)
	if err != nil {
		obs.RecordScan("error", "")
		return ScanResult{}, remoteError(err)
	}
	obs.RecordScan(string(res.Outcome), string(res.Strategy))

	out := ScanResult{
		Term:       res.Term,
		Outcome:    res.Outcome,
		Strategy:   res.Strategy,
		Product:    res.Product,
		Candidates: res.Candidates,
	}
	if res.Outcome == catalog.OutcomeMatched && res.Product != nil {
		out.Cart = t.cart.AddItem(*res.Product, res.EmbeddedAmount).View()
	} else {
		out.Cart = t.Cart()
	}
	t.logger.Info().
		Str("term", res.Term).
		Str("outcome", string(res.Outcome)).
		Str("strategy", string(res.Strategy)).
		Int("candidates", len(res.Candidates)).
		Msg("scan_resolved")
	return out, nil
}

// AddProduct adds a product picked from an ambiguous search.
func (t *Terminal) AddProduct(p catalog.Product) (cart.View, error) {
	if err := p.Validate(); err != nil {
		return cart.View{}, common.Validation("INVALID_PRODUCT", err)
	}
	return t.cart.AddItem(p, nil).View(), nil
}

// RemoveItem drops a line. Unknown indexes leave the cart unchanged.
func (t *Terminal) RemoveItem(index int) cart.View {
	return t.cart.RemoveItem(index).View()
}

// SetQuantity changes a line's quantity.
func (t *Terminal) SetQuantity(index int, qty decimal.Decimal) (cart.View, error) {
	snap, err := t.cart.SetQuantity(index, qty)
	if err != nil {
		return cart.View{}, cartError(err)
	}
	return snap.View(), nil
}

// SetLineDiscount sets a line's discount.
func (t *Terminal) SetLineDiscount(index int, amount decimal.Decimal) (cart.View, error) {
	snap, err := t.cart.SetLineDiscount(index, amount)
	if err != nil {
		return cart.View{}, cartError(err)
	}
	return snap.View(), nil
}

// SetDiscount sets the cart-level discount.
func (t *Terminal) SetDiscount(amount decimal.Decimal) (cart.View, error) {
	snap, err := t.cart.SetOverallDiscount(amount)
	if err != nil {
		return cart.View{}, cartError(err)
	}
	return snap.View(), nil
}

// SelectCustomer links or, with nil, unlinks the customer.
func (t *Terminal) SelectCustomer(customer *cart.CustomerRef) cart.View {
	return t.cart.SetCustomer(customer).View()
}

// SetPayment records the method and tendered amount for the next finalize.
func (t *Terminal) SetPayment(method string, tendered decimal.Decimal) (PaymentView, error) {
	p, err := parsePayment(method, tendered)
	if err != nil {
		return PaymentView{}, err
	}
	t.mu.Lock()
	t.payment = p
	t.mu.Unlock()
	return t.PaymentView(), nil
}

func parsePayment(method string, tendered decimal.Decimal) (Payment, error) {
	m, ok := checkout.ParseMethod(method)
	if !ok {
		return Payment{}, common.Validation("UNKNOWN_PAYMENT_METHOD", checkout.ErrUnknownMethod)
	}
	if tendered.IsNegative() {
		return Payment{}, common.Validation("INVALID_AMOUNT", till.ErrInvalidAmount)
	}
	return Payment{Method: m, Tendered: tendered}, nil
}

// PaymentView reports the pending payment against the current cart.
func (t *Terminal) PaymentView() PaymentView {
	t.mu.Lock()
	p := t.payment
	t.mu.Unlock()
	snap := t.cart.Current()
	return PaymentView{
		Payment:     p,
		Change:      checkout.ComputeChange(snap, checkout.AmountPaid(snap, p.Method, p.Tendered)),
		CanFinalize: checkout.CanCheckout(snap, p.Method, p.Tendered),
	}
}

// CanFinalize reports whether the pending payment settles the cart and a till is open.
func (t *Terminal) CanFinalize() bool {
	t.mu.Lock()
	open := t.session != nil && !t.session.IsClosed()
	t.mu.Unlock()
	return open && t.PaymentView().CanFinalize
}

// Finalize checks out the current cart with the pending payment. The sale is
// persisted before the till and the cart change; if persisting fails nothing
// local changes and the operator can retry. A retry of an unchanged cart and
// payment resubmits under the same sale reference.
func (t *Terminal) Finalize(ctx context.Context) (Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizeLocked(ctx, t.payment)
}

// FinalizeWith checks out the current cart with the given payment. The
// pending payment is left as it was when the finalize is rejected.
func (t *Terminal) FinalizeWith(ctx context.Context, method string, tendered decimal.Decimal) (Receipt, error) {
	p, err := parsePayment(method, tendered)
	if err != nil {
		return Receipt{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizeLocked(ctx, p)
}

func (t *Terminal) finalizeLocked(ctx context.Context, payment Payment) (Receipt, error) {
	if t.session == nil {
		return Receipt{}, common.Conflict("TILL_NOT_OPEN", ErrNoOpenTill)
	}
	if t.session.IsClosed() {
		return Receipt{}, common.Conflict("SESSION_CLOSED", till.ErrSessionClosed)
	}

	snap := t.cart.Current()
	rec, err := checkout.Finalize(snap, payment.Method, payment.Tendered, t.now())
	if err != nil {
		obs.RecordSale(string(payment.Method), "rejected", 0)
		return Receipt{}, err
	}
	rec.TillID = t.session.ID
	if t.pending.matches(snap.Version(), payment) {
		rec.Reference = t.pending.reference
	} else {
		t.pending = &pendingSale{version: snap.Version(), payment: payment, reference: rec.Reference}
	}

	persisted, err := t.sales.Submit(ctx, rec)
	if err != nil {
		obs.RecordSale(string(rec.Method), "failed", 0)
		t.logger.Error().Err(err).Str("reference", rec.Reference).Msg("sale_submit_failed")
		return Receipt{}, remoteError(err)
	}

	if err := t.session.ApplySale(rec.Method, rec.Net); err != nil {
		// the session was checked above and mu is held, so this is a bug
		t.logger.Error().Err(err).Int64("sale_id", persisted.ID).Msg("till_apply_failed")
		return Receipt{}, err
	}
	t.payment = Payment{Method: checkout.MethodCash, Tendered: decimal.Zero}
	t.pending = nil
	if left := t.cart.Settle(snap); !left.IsEmpty() {
		t.logger.Info().Int("lines", left.Len()).Str("reference", rec.Reference).Msg("cart_kept_after_sale")
	}

	net, _ := rec.Net.Float64()
	obs.RecordSale(string(rec.Method), "ok", net)
	t.logger.Info().
		Str("reference", rec.Reference).
		Int64("sale_id", persisted.ID).
		Str("method", string(rec.Method)).
		Str("net", rec.Net.StringFixed(2)).
		Str("change", rec.Change.StringFixed(2)).
		Msg("sale_finalized")
	t.emit(ctx, events.TopicSaleCompleted, strconv.FormatInt(persisted.ID, 10), map[string]any{
		"reference": rec.Reference,
		"number":    persisted.Number,
		"method":    rec.Method,
		"net":       rec.Net,
		"tillId":    t.session.ID,
	})
	return Receipt{Sale: rec, Persisted: persisted, Till: t.session.View()}, nil
}

// CancelSale abandons the sale in progress.
func (t *Terminal) CancelSale(ctx context.Context) cart.View {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := t.cart.Current()
	view := t.clearLocked().View()
	if !before.IsEmpty() {
		t.emit(ctx, events.TopicSaleCanceled, strconv.FormatUint(before.Version(), 10), map[string]any{
			"lines": before.Len(),
			"net":   before.Net(),
		})
	}
	return view
}

// VoidSale cancels a sale the backoffice already stored. Till totals are
// left alone; the backoffice reverses them when it voids the sale.
func (t *Terminal) VoidSale(ctx context.Context, saleID int64, reason string) error {
	if reason == "" {
		return common.Validation("REASON_REQUIRED", ErrReasonRequired)
	}
	if err := t.canceler.Cancel(ctx, saleID, reason); err != nil {
		return remoteError(err)
	}
	t.logger.Info().Int64("sale_id", saleID).Msg("sale_voided")
	t.emit(ctx, events.TopicSaleVoided, strconv.FormatInt(saleID, 10), map[string]any{"reason": reason})
	return nil
}

// ResumeTill adopts the session the backoffice reports as open, if any.
func (t *Terminal) ResumeTill(ctx context.Context) (*till.View, error) {
	session, err := t.tills.GetOpenSession(ctx)
	if err != nil {
		return nil, remoteError(err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = session
	if session == nil {
		return nil, nil
	}
	view := session.View()
	return &view, nil
}

// OpenTill starts a till session with the opening float.
func (t *Terminal) OpenTill(ctx context.Context, openingFloat decimal.Decimal) (till.View, error) {
	if openingFloat.IsNegative() {
		return till.View{}, common.Validation("INVALID_AMOUNT", till.ErrInvalidAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil && !t.session.IsClosed() {
		return till.View{}, common.Conflict("TILL_ALREADY_OPEN", ErrTillAlreadyOpen)
	}
	session, err := t.tills.Open(ctx, openingFloat)
	if err != nil {
		return till.View{}, remoteError(err)
	}
	t.session = session
	view := session.View()
	t.logger.Info().Int64("till_id", session.ID).Int("number", session.Number).Msg("till_opened")
	t.emit(ctx, events.TopicTillOpened, strconv.FormatInt(session.ID, 10), map[string]any{
		"number":       session.Number,
		"openingFloat": session.OpeningFloat,
	})
	return view, nil
}

// CloseTill reconciles the counted cash and closes the session. The remote
// close happens first so a failure leaves the local session open.
func (t *Terminal) CloseTill(ctx context.Context, countedCash decimal.Decimal) (till.ClosingRecord, error) {
	if countedCash.IsNegative() {
		return till.ClosingRecord{}, common.Validation("INVALID_AMOUNT", till.ErrInvalidAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return till.ClosingRecord{}, common.Conflict("TILL_NOT_OPEN", ErrNoOpenTill)
	}
	if t.session.IsClosed() {
		return till.ClosingRecord{}, common.Conflict("SESSION_CLOSED", till.ErrSessionClosed)
	}
	if err := t.tills.Close(ctx, t.session.ID); err != nil {
		return till.ClosingRecord{}, remoteError(err)
	}
	rec, err := t.session.Close(countedCash, t.now())
	if err != nil {
		return till.ClosingRecord{}, err
	}

	variance, _ := rec.Variance.Float64()
	obs.RecordTillClosed(variance)
	t.logger.Info().
		Int64("till_id", t.session.ID).
		Str("expected", rec.Expected.StringFixed(2)).
		Str("counted", rec.CountedCash.StringFixed(2)).
		Str("variance", rec.Variance.StringFixed(2)).
		Msg("till_closed")
	t.emit(ctx, events.TopicTillClosed, strconv.FormatInt(t.session.ID, 10), rec)
	return rec, nil
}

// Till returns the current session, open or just closed, or nil.
func (t *Terminal) Till() *till.View {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil
	}
	view := t.session.View()
	return &view
}

// clearLocked must be called with mu held.
func (t *Terminal) clearLocked() cart.Snapshot {
	t.payment = Payment{Method: checkout.MethodCash, Tendered: decimal.Zero}
	t.pending = nil
	return t.cart.Clear()
}

func (t *Terminal) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if t.bus == nil {
		return
	}
	if _, err := t.bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		t.logger.Warn().Err(err).Str("topic", topic).Msg("event_emit_failed")
	}
}

func cartError(err error) error {
	switch {
	case errors.Is(err, cart.ErrLineNotFound):
		return common.NewAppError("LINE_NOT_FOUND", err.Error(), http.StatusNotFound, err)
	case errors.Is(err, cart.ErrInvalidQuantity):
		return common.Validation("INVALID_QUANTITY", err)
	case errors.Is(err, cart.ErrInvalidDiscount):
		return common.Validation("INVALID_DISCOUNT", err)
	default:
		return err
	}
}

// remoteError surfaces a collaborator failure with the collaborator's own
// message. Errors that already carry a status pass through.
func remoteError(err error) error {
	if err == nil || common.IsAppError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return common.NewAppError("REMOTE_TIMEOUT", "backoffice did not answer in time", http.StatusGatewayTimeout, err)
	}
	return common.NewAppError("REMOTE_FAILED", err.Error(), http.StatusBadGateway, err)
}
