package terminal_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pdv/internal/common"
	"github.com/noah-isme/backend-pdv/internal/config"
	"github.com/noah-isme/backend-pdv/internal/terminal"
)

func newDispatcher(t *testing.T, fx *fixture) *terminal.Dispatcher {
	t.Helper()
	bindings, err := config.ParseShortcuts(config.DefaultShortcuts)
	require.NoError(t, err)
	d, err := terminal.NewDispatcher(bindings)
	require.NoError(t, err)
	fx.term.Bind(d)
	return d
}

func TestNewDispatcherRejectsUnknownCommand(t *testing.T) {
	_, err := terminal.NewDispatcher(map[string]string{"F9": "open-drawer"})
	require.Error(t, err)
}

func TestDispatcherBindingsAreSorted(t *testing.T) {
	d := newDispatcher(t, newFixture(t, defaultLookup()))
	bindings := d.Bindings()
	require.Len(t, bindings, 4)
	require.Equal(t, "ESC", bindings[0].Trigger)
	require.Equal(t, terminal.CommandCancelSale, bindings[0].Command)
	require.Equal(t, "F12", bindings[1].Trigger)
}

func TestDispatchUIHints(t *testing.T) {
	d := newDispatcher(t, newFixture(t, defaultLookup()))

	res, err := d.Dispatch(context.Background(), "f2")
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Equal(t, terminal.CommandFocusSearch, res.Command)
	require.Equal(t, terminal.UIHint{Focus: "search"}, res.Result)

	res, err = d.Dispatch(context.Background(), "F5")
	require.NoError(t, err)
	require.Equal(t, terminal.UIHint{Open: "customer-picker"}, res.Result)
}

func TestDispatchUnboundTrigger(t *testing.T) {
	d := newDispatcher(t, newFixture(t, defaultLookup()))

	_, err := d.Dispatch(context.Background(), "F7")
	require.ErrorIs(t, err, terminal.ErrUnboundTrigger)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, 404, appErr.HTTPStatus)
}

func TestFinalizeShortcutIsIgnoredUntilPaymentCoversCart(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	d := newDispatcher(t, fx)
	ctx := context.Background()

	_, err := fx.term.OpenTill(ctx, decimal.NewFromInt(20))
	require.NoError(t, err)
	_, err = fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)
	_, err = fx.term.SetPayment("cash", decimal.NewFromInt(5))
	require.NoError(t, err)

	res, err := d.Dispatch(ctx, "F12")
	require.NoError(t, err)
	require.False(t, res.Handled)
	require.Zero(t, fx.sales.count())
	require.Len(t, fx.term.Cart().Lines, 1)

	_, err = fx.term.SetPayment("cash", decimal.NewFromInt(10))
	require.NoError(t, err)
	res, err = d.Dispatch(ctx, "F12")
	require.NoError(t, err)
	require.True(t, res.Handled)
	receipt, ok := res.Result.(terminal.Receipt)
	require.True(t, ok)
	require.Equal(t, "3.75", receipt.Sale.Change.StringFixed(2))
	require.Equal(t, 1, fx.sales.count())
}

func TestCancelShortcutClearsCart(t *testing.T) {
	fx := newFixture(t, defaultLookup())
	d := newDispatcher(t, fx)
	ctx := context.Background()
	_, err := fx.term.Scan(ctx, rice.Barcode)
	require.NoError(t, err)

	res, err := d.Dispatch(ctx, "esc")
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Empty(t, fx.term.Cart().Lines)
}
