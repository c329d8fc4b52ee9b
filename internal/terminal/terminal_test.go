package terminal_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pdv/internal/cart"
	"github.com/noah-isme/backend-pdv/internal/catalog"
	"github.com/noah-isme/backend-pdv/internal/checkout"
	"github.com/noah-isme/backend-pdv/internal/common"
	"github.com/noah-isme/backend-pdv/internal/events"
	"github.com/noah-isme/backend-pdv/internal/scale"
	"github.com/noah-isme/backend-pdv/internal/terminal"
	"github.com/noah-isme/backend-pdv/internal/till"
)

var (
	cheese = catalog.Product{ID: 12345, Barcode: "7890000000011", Description: "Queijo prato", Unit: catalog.UnitKilogram, SalePrice: decimal.RequireFromString("39.90")}
	rice   = catalog.Product{ID: 1, Barcode: "7891000100103", Description: "Arroz 5kg", Unit: catalog.UnitUnit, SalePrice: decimal.RequireFromString("6.25")}
	beans  = catalog.Product{ID: 2, Barcode: "7891000100200", Description: "Arroz integral", Unit: catalog.UnitUnit, SalePrice: decimal.RequireFromString("8.10")}
)

type fakeLookup struct {
	products []catalog.Product
	err      error
}

func (f fakeLookup) FindByID(_ context.Context, id int64) (*catalog.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.products {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (f fakeLookup) FindByBarcode(_ context.Context, code string) (*catalog.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.products {
		if p.Barcode == code {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (f fakeLookup) SearchByName(_ context.Context, term string) ([]catalog.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	if term == "arroz" {
		return []catalog.Product{rice, beans}, nil
	}
	return nil, nil
}

// submitGate holds Submit until release is closed.
type submitGate struct {
	entered chan struct{}
	release chan struct{}
}

type fakeSales struct {
	mu        sync.Mutex
	submitted []checkout.SaleRecord
	attempts  []string
	voided    []int64
	err       error
	gate      *submitGate
}

func (f *fakeSales) Submit(_ context.Context, rec checkout.SaleRecord) (checkout.PersistedSale, error) {
	f.mu.Lock()
	f.attempts = append(f.attempts, rec.Reference)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		gate.entered <- struct{}{}
		<-gate.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return checkout.PersistedSale{}, f.err
	}
	f.submitted = append(f.submitted, rec)
	id := int64(100 + len(f.submitted))
	return checkout.PersistedSale{ID: id, Number: "V" + rec.Reference[:4]}, nil
}

func (f *fakeSales) Cancel(_ context.Context, saleID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.voided = append(f.voided, saleID)
	return nil
}

func (f *fakeSales) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeTills struct {
	open     *till.Session
	closeErr error
	closed   []int64
}

func (f *fakeTills) GetOpenSession(context.Context) (*till.Session, error) {
	return f.open, nil
}

func (f *fakeTills) Open(_ context.Context, openingFloat decimal.Decimal) (*till.Session, error) {
	s, err := till.Open(7, 3, openingFloat, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	f.open = s
	return s, nil
}

func (f *fakeTills) Close(_ context.Context, id int64) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, id)
	return nil
}

type fixture struct {
	term   *terminal.Terminal
	sales  *fakeSales
	tills  *fakeTills
	mu     sync.Mutex
	events []events.Event
}

func (f *fixture) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Topic)
	}
	return out
}

func newFixture(t *testing.T, lookup catalog.Lookup) *fixture {
	t.Helper()
	fx := &fixture{sales: &fakeSales{}, tills: &fakeTills{}}
	bus := &events.Bus{Notifiers: []events.Notifier{events.NotifierFunc(func(_ context.Context, ev events.Event) error {
		fx.mu.Lock()
		defer fx.mu.Unlock()
		fx.events = append(fx.events, ev)
		return nil
	})}}
	fx.term = terminal.New(terminal.Options{
		Resolver: catalog.Resolver{Lookup: lookup, Decoder: scale.Decoder{Layout: scale.Auto}},
		Sales:    fx.sales,
		Canceler: fx.sales,
		Tills:    fx.tills,
		Bus:      bus,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC) },
	})
	return fx
}

func defaultLookup() fakeLookup {
	return fakeLookup{products: []catalog.Product{cheese, rice, beans}}
}

func TestScanScaleLabelAddsWeighedLine(t *testing.T) {
	fx := newFixture(t, defaultLookup())

	res, err := fx.term.Scan(context.Background(), "2123450012503")
	require.NoError(t, err)
	require.Equal(t, catalog.OutcomeMatched, res.Outcome)
	require.Equal(t, catalog.StrategyScale, res.Strategy)
	require.Len(t, res.Cart.Lines, 1)

	line := res.Cart.Lines[0]
	require.True(t, line.ScalePriced)
	require.Equal(t, "12.50", line.Subtotal.StringFixed(2))
	require.Equal(t, "0.313", line.Quantity.StringFixed(3))
	require.Equal(t, "12.50", res.Cart.Net.StringFixed(2))
}

func TestScanBarcodeMergesAndNameSearchIsAmbiguous(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()

	_, err := fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	res, err := fx.term.Scan(ctx, " "+rice.Barcode+" ")
	require.NoError(t, err)
	require.Len(t, res.Cart.Lines, 1)
	require.Equal(t, "2", res.Cart.Lines[0].Quantity.String())

	amb, err := fx.term.Scan(ctx, "arroz")
	require.NoError(t, err)
	require.Equal(t, catalog.OutcomeAmbiguous, amb.Outcome)
	require.Len(t, amb.Candidates, 2)
	require.Len(t, amb.Cart.Lines, 1, "ambiguous searches leave the cart alone")

	none, err := fx.term.Scan(ctx, "feijao")
	require.NoError(t, err)
	require.Equal(t, catalog.OutcomeNotFound, none.Outcome)

	empty, err := fx.term.Scan(ctx, "   ")
	require.NoError(t, err)
	require.Equal(t, catalog.OutcomeEmpty, empty.Outcome)
}

func TestScanLookupFailureIsRemoteError(t *testing.T) {
	fx := newFixture(t, fakeLookup{err: errors.New("Serviço indisponível")})

	_, err := fx.term.Scan(context.Background(), rice.Barcode)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusBadGateway, appErr.HTTPStatus)
	require.Contains(t, appErr.Message, "Serviço indisponível")
	require.Empty(t, fx.term.Cart().Lines)
}

func TestFinalizeRequiresOpenTill(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	_, err := fx.term.Scan(context.Background(), rice.Barcode)
	require.NoError(t, err)

	_, err = fx.term.Finalize(context.Background())
	require.ErrorIs(t, err, terminal.ErrNoOpenTill)
	require.Zero(t, fx.sales.count())
	require.False(t, fx.term.CanFinalize())
}

func TestFinalizeCashSaleUpdatesTillAndClearsCart(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()

	_, err := fx.term.OpenTill(ctx, decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	fx.term.SelectCustomer(&cart.CustomerRef{ID: 9, Name: "Maria"})

	pv, err := fx.term.SetPayment("cash", decimal.NewFromInt(20))
	require.NoError(t, err)
	require.True(t, pv.CanFinalize)
	require.Equal(t, "7.50", pv.Change.StringFixed(2))

	receipt, err := fx.term.Finalize(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(101), receipt.Persisted.ID)
	require.Equal(t, "12.50", receipt.Sale.Net.StringFixed(2))
	require.Equal(t, "20.00", receipt.Sale.AmountPaid.StringFixed(2))
	require.Equal(t, "7.50", receipt.Sale.Change.StringFixed(2))
	require.Equal(t, int64(7), receipt.Sale.TillID)
	require.Equal(t, int64(9), receipt.Sale.Customer.ID)

	require.Equal(t, 1, receipt.Till.SaleCount)
	require.Equal(t, "112.50", receipt.Till.ExpectedCashOnHand.StringFixed(2))

	view := fx.term.Cart()
	require.Empty(t, view.Lines)
	require.Nil(t, view.Customer)
	require.True(t, fx.term.PaymentView().Tendered.IsZero())
	require.Equal(t, []string{events.TopicTillOpened, events.TopicSaleCompleted}, fx.topics())
}

func TestFinalizeNonCashRecordsNet(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()
	_, err := fx.term.OpenTill(ctx, decimal.NewFromInt(50))
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, beans.Barcode)
	require.NoError(t, err)
	_, err = fx.term.SetPayment("PIX", decimal.Zero)
	require.NoError(t, err)

	receipt, err := fx.term.Finalize(ctx)
	require.NoError(t, err)
	require.Equal(t, "8.10", receipt.Sale.AmountPaid.StringFixed(2))
	require.True(t, receipt.Sale.Change.IsZero())
	require.Equal(t, "8.10", receipt.Till.Totals[checkout.MethodPix].StringFixed(2))
	require.Equal(t, "50.00", receipt.Till.ExpectedCashOnHand.StringFixed(2))
}

func TestFinalizeValidationLeavesStateAlone(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()
	_, err := fx.term.OpenTill(ctx, decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = fx.term.Finalize(ctx)
	require.ErrorIs(t, err, checkout.ErrEmptyCart)

	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	_, err = fx.term.SetPayment("cash", decimal.NewFromInt(5))
	require.NoError(t, err)
	_, err = fx.term.Finalize(ctx)
	require.ErrorIs(t, err, checkout.ErrInsufficientTender)
	require.Len(t, fx.term.Cart().Lines, 1)
	require.Zero(t, fx.sales.count())

	_, err = fx.term.SetPayment("voucher", decimal.Zero)
	require.ErrorIs(t, err, checkout.ErrUnknownMethod)
}

func TestFinalizeSubmitFailureKeepsCart(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()
	_, err := fx.term.OpenTill(ctx, decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	_, err = fx.term.SetPayment("debit", decimal.Zero)
	require.NoError(t, err)

	fx.sales.err = errors.New("Caixa fechado no servidor")
	before := fx.term.Cart()
	_, err = fx.term.Finalize(ctx)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "REMOTE_FAILED", appErr.Code)
	require.Equal(t, "Caixa fechado no servidor", appErr.Message)

	require.Equal(t, before.Version, fx.term.Cart().Version)
	require.Zero(t, fx.term.Till().SaleCount)
	require.Equal(t, checkout.MethodDebit, fx.term.PaymentView().Method)
}

func TestFinalizeRetryReusesSaleReference(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()
	_, err := fx.term.OpenTill(ctx, decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	_, err = fx.term.SetPayment("cash", decimal.NewFromInt(10))
	require.NoError(t, err)

	fx.sales.err = context.DeadlineExceeded
	_, err = fx.term.Finalize(ctx)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "REMOTE_TIMEOUT", appErr.Code)

	fx.sales.err = nil
	receipt, err := fx.term.Finalize(ctx)
	require.NoError(t, err)
	require.Len(t, fx.sales.attempts, 2)
	require.Equal(t, fx.sales.attempts[0], fx.sales.attempts[1])
	require.Equal(t, fx.sales.attempts[0], receipt.Sale.Reference)

	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	next, err := fx.term.FinalizeWith(ctx, "pix", decimal.Zero)
	require.NoError(t, err)
	require.NotEqual(t, receipt.Sale.Reference, next.Sale.Reference)
}

func TestFinalizeRetryAfterChangeUsesNewReference(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()
	_, err := fx.term.OpenTill(ctx, decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)

	fx.sales.err = errors.New("Serviço indisponível")
	_, err = fx.term.FinalizeWith(ctx, "cash", decimal.NewFromInt(20))
	require.Error(t, err)
	_, err = fx.term.Scan(ctx, beans.Barcode)
	require.NoError(t, err)
	_, err = fx.term.FinalizeWith(ctx, "cash", decimal.NewFromInt(20))
	require.Error(t, err)
	_, err = fx.term.FinalizeWith(ctx, "cash", decimal.NewFromInt(50))
	require.Error(t, err)

	require.Len(t, fx.sales.attempts, 3)
	require.NotEqual(t, fx.sales.attempts[0], fx.sales.attempts[1], "cart changed")
	require.NotEqual(t, fx.sales.attempts[1], fx.sales.attempts[2], "payment changed")
}

func TestScanDuringFinalizeStaysInCart(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()
	_, err := fx.term.OpenTill(ctx, decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	_, err = fx.term.SetPayment("cash", decimal.NewFromInt(10))
	require.NoError(t, err)

	gate := &submitGate{entered: make(chan struct{}), release: make(chan struct{})}
	fx.sales.gate = gate
	type result struct {
		receipt terminal.Receipt
		err     error
	}
	done := make(chan result, 1)
	go func() {
		r, err := fx.term.Finalize(ctx)
		done <- result{r, err}
	}()

	<-gate.entered
	_, err = fx.term.Scan(ctx, beans.Barcode)
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	close(gate.release)

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.receipt.Sale.Items, 1)
	require.Equal(t, "6.25", res.receipt.Sale.Net.StringFixed(2))

	view := fx.term.Cart()
	require.Len(t, view.Lines, 2)
	require.Equal(t, rice.ID, view.Lines[0].ProductID)
	require.Equal(t, "1", view.Lines[0].Quantity.String())
	require.Equal(t, beans.ID, view.Lines[1].ProductID)
	require.Equal(t, "14.35", view.Net.StringFixed(2))
	require.Equal(t, 1, fx.term.Till().SaleCount)
}

func TestFinalizeWithRejectedPaymentKeepsPending(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()
	_, err := fx.term.OpenTill(ctx, decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	_, err = fx.term.SetPayment("debit", decimal.Zero)
	require.NoError(t, err)

	_, err = fx.term.FinalizeWith(ctx, "cash", decimal.NewFromInt(1))
	require.ErrorIs(t, err, checkout.ErrInsufficientTender)
	_, err = fx.term.FinalizeWith(ctx, "cheque", decimal.Zero)
	require.ErrorIs(t, err, checkout.ErrUnknownMethod)

	pv := fx.term.PaymentView()
	require.Equal(t, checkout.MethodDebit, pv.Method)
	require.True(t, pv.CanFinalize)
	require.Zero(t, fx.sales.count())
}

func TestCloseTillReconciles(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()
	_, err := fx.term.OpenTill(ctx, decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	_, err = fx.term.OpenTill(ctx, decimal.RequireFromString("100.00"))
	require.ErrorIs(t, err, terminal.ErrTillAlreadyOpen)

	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	_, err = fx.term.SetPayment("cash", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = fx.term.Finalize(ctx)
	require.NoError(t, err)

	fx.tills.closeErr = errors.New("timeout")
	_, err = fx.term.CloseTill(ctx, decimal.RequireFromString("100.00"))
	require.Error(t, err)
	require.Nil(t, fx.term.Till().Closing, "a failed remote close keeps the session open")

	fx.tills.closeErr = nil
	rec, err := fx.term.CloseTill(ctx, decimal.RequireFromString("105.00"))
	require.NoError(t, err)
	require.Equal(t, "106.25", rec.Expected.StringFixed(2))
	require.Equal(t, "-1.25", rec.Variance.StringFixed(2))
	require.Equal(t, []int64{7}, fx.tills.closed)

	_, err = fx.term.CloseTill(ctx, decimal.Zero)
	require.ErrorIs(t, err, till.ErrSessionClosed)

	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	_, err = fx.term.SetPayment("cash", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = fx.term.Finalize(ctx)
	require.ErrorIs(t, err, till.ErrSessionClosed)

	_, err = fx.term.OpenTill(ctx, decimal.NewFromInt(80))
	require.NoError(t, err, "a new session may follow a closed one")
}

func TestResumeTillAdoptsRemoteSession(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()

	view, err := fx.term.ResumeTill(ctx)
	require.NoError(t, err)
	require.Nil(t, view)

	session, err := till.Restore(4, 2, decimal.NewFromInt(100), time.Now(), map[checkout.Method]decimal.Decimal{
		checkout.MethodCash: decimal.NewFromInt(250),
	}, 5)
	require.NoError(t, err)
	fx.tills.open = session

	view, err = fx.term.ResumeTill(ctx)
	require.NoError(t, err)
	require.NotNil(t, view)
	require.Equal(t, "350.00", view.ExpectedCashOnHand.StringFixed(2))
	require.Equal(t, 5, view.SaleCount)
}

func TestCancelAndVoidSale(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()

	fx.term.CancelSale(ctx)
	require.Empty(t, fx.topics(), "cancelling an empty cart emits nothing")

	_, err := fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	view := fx.term.CancelSale(ctx)
	require.Empty(t, view.Lines)
	require.Equal(t, []string{events.TopicSaleCanceled}, fx.topics())

	require.ErrorIs(t, fx.term.VoidSale(ctx, 101, ""), terminal.ErrReasonRequired)
	require.NoError(t, fx.term.VoidSale(ctx, 101, "cliente desistiu"))
	require.Equal(t, []int64{101}, fx.sales.voided)

	fx.mu.Lock()
	last := fx.events[len(fx.events)-1]
	fx.mu.Unlock()
	require.Equal(t, events.TopicSaleVoided, last.Topic)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	require.Equal(t, "cliente desistiu", payload["reason"])
}

func TestCartEditsMapErrors(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	ctx := context.Background()
	_, err := fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)

	_, err = fx.term.SetQuantity(0, decimal.RequireFromString("1.5"))
	require.ErrorIs(t, err, cart.ErrInvalidQuantity)
	_, err = fx.term.SetQuantity(4, decimal.NewFromInt(1))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)

	view, err := fx.term.SetQuantity(0, decimal.NewFromInt(3))
	require.NoError(t, err)
	require.Equal(t, "18.75", view.Net.StringFixed(2))

	view, err = fx.term.SetLineDiscount(0, decimal.RequireFromString("0.75"))
	require.NoError(t, err)
	require.Equal(t, "18.00", view.Net.StringFixed(2))

	view, err = fx.term.SetDiscount(decimal.NewFromInt(30))
	require.NoError(t, err)
	require.True(t, view.Net.IsZero())

	_, err = fx.term.SetDiscount(decimal.NewFromInt(-1))
	require.ErrorIs(t, err, cart.ErrInvalidDiscount)

	view = fx.term.RemoveItem(9)
	require.Len(t, view.Lines, 1)
	view = fx.term.RemoveItem(0)
	require.Empty(t, view.Lines)
}
