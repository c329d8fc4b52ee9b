package checkout_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pdv/internal/cart"
	"github.com/noah-isme/backend-pdv/internal/catalog"
	"github.com/noah-isme/backend-pdv/internal/checkout"
	"github.com/noah-isme/backend-pdv/internal/common"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cartWithTotal(t *testing.T, price string) cart.Snapshot {
	t.Helper()
	e := cart.NewEngine()
	return e.AddItem(catalog.Product{ID: 1, Description: "Cafe", Unit: catalog.UnitUnit, SalePrice: dec(price)}, nil)
}

func TestCanCheckoutEmptyCart(t *testing.T) {
	empty := cart.NewEngine().Current()
	for _, m := range checkout.Methods() {
		require.False(t, checkout.CanCheckout(empty, m, dec("1000")), string(m))
	}
}

func TestCanCheckoutCashTender(t *testing.T) {
	snap := cartWithTotal(t, "18.50")
	require.False(t, checkout.CanCheckout(snap, checkout.MethodCash, dec("18.49")))
	require.True(t, checkout.CanCheckout(snap, checkout.MethodCash, dec("18.50")))
	require.True(t, checkout.CanCheckout(snap, checkout.MethodCash, dec("50")))
	require.True(t, checkout.CanCheckout(snap, checkout.MethodDebit, decimal.Zero))
	require.True(t, checkout.CanCheckout(snap, checkout.MethodPix, decimal.Zero))
	require.False(t, checkout.CanCheckout(snap, checkout.Method("cheque"), dec("50")))
}

func TestComputeChangeNeverNegative(t *testing.T) {
	snap := cartWithTotal(t, "18.50")
	require.Equal(t, "31.50", checkout.ComputeChange(snap, dec("50")).StringFixed(2))
	require.True(t, checkout.ComputeChange(snap, dec("10")).IsZero())
	require.True(t, checkout.ComputeChange(snap, decimal.Zero).IsZero())
}

func TestFinalizeCash(t *testing.T) {
	snap := cartWithTotal(t, "18.50")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec, err := checkout.Finalize(snap, checkout.MethodCash, dec("20"), now)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Reference)
	require.Equal(t, checkout.MethodCash, rec.Method)
	require.True(t, rec.AmountPaid.Equal(dec("20")))
	require.Equal(t, "1.50", rec.Change.StringFixed(2))
	require.True(t, rec.Net.Equal(dec("18.50")))
	require.Len(t, rec.Items, 1)
	require.Equal(t, now, rec.CreatedAt)
	require.Equal(t, 1, snap.Len(), "finalize never mutates the cart")
}

func TestFinalizeNonCashPaysNetTotal(t *testing.T) {
	snap := cartWithTotal(t, "18.50")
	rec, err := checkout.Finalize(snap, checkout.MethodCredit, dec("100"), time.Now())
	require.NoError(t, err)
	require.True(t, rec.AmountPaid.Equal(dec("18.50")))
	require.True(t, rec.Change.IsZero())
}

func TestFinalizeValidationErrors(t *testing.T) {
	_, err := checkout.Finalize(cart.NewEngine().Current(), checkout.MethodPix, decimal.Zero, time.Now())
	require.ErrorIs(t, err, checkout.ErrEmptyCart)

	_, err = checkout.Finalize(cartWithTotal(t, "10"), checkout.MethodCash, dec("9.99"), time.Now())
	require.ErrorIs(t, err, checkout.ErrInsufficientTender)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "INSUFFICIENT_TENDER", appErr.Code)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
}

func TestParseMethod(t *testing.T) {
	m, ok := checkout.ParseMethod(" PIX ")
	require.True(t, ok)
	require.Equal(t, checkout.MethodPix, m)
	_, ok = checkout.ParseMethod("boleto")
	require.False(t, ok)
	require.True(t, checkout.MethodCash.IsCash())
	require.False(t, checkout.MethodDebit.IsCash())
}
