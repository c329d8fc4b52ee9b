package till_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pdv/internal/checkout"
	"github.com/noah-isme/backend-pdv/internal/till"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var opened = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestCloseReportsVariance(t *testing.T) {
	s, err := till.Open(1, 12, dec("100.00"), opened)
	require.NoError(t, err)
	require.NoError(t, s.ApplySale(checkout.MethodCash, dec("250.00")))
	require.NoError(t, s.ApplySale(checkout.MethodPix, dec("80.00")))

	require.Equal(t, "350.00", s.ExpectedCashOnHand().StringFixed(2))
	require.Equal(t, 2, s.SaleCount())
	require.Equal(t, "330.00", s.TotalSales().StringFixed(2))

	closedAt := opened.Add(9 * time.Hour)
	rec, err := s.Close(dec("345.00"), closedAt)
	require.NoError(t, err)
	require.Equal(t, "350.00", rec.Expected.StringFixed(2))
	require.Equal(t, "-5.00", rec.Variance.StringFixed(2))
	require.Equal(t, closedAt, rec.ClosedAt)
	require.True(t, s.IsClosed())
}

func TestCloseTwiceKeepsFirstRecord(t *testing.T) {
	s, err := till.Open(1, 1, dec("50"), opened)
	require.NoError(t, err)
	first, err := s.Close(dec("50"), opened.Add(time.Hour))
	require.NoError(t, err)

	_, err = s.Close(dec("999"), opened.Add(2*time.Hour))
	require.ErrorIs(t, err, till.ErrSessionClosed)
	require.Equal(t, first, *s.Closing())
	require.True(t, s.Closing().Variance.IsZero())
}

func TestApplySaleAfterCloseFails(t *testing.T) {
	s, err := till.Open(1, 1, decimal.Zero, opened)
	require.NoError(t, err)
	_, err = s.Close(decimal.Zero, opened)
	require.NoError(t, err)

	err = s.ApplySale(checkout.MethodCash, dec("10"))
	require.ErrorIs(t, err, till.ErrSessionClosed)
	require.True(t, s.Total(checkout.MethodCash).IsZero())
	require.Zero(t, s.SaleCount())
}

func TestApplySaleRejectsInvalidInput(t *testing.T) {
	s, err := till.Open(1, 1, decimal.Zero, opened)
	require.NoError(t, err)
	require.ErrorIs(t, s.ApplySale(checkout.MethodCash, dec("-1")), till.ErrInvalidAmount)
	require.ErrorIs(t, s.ApplySale(checkout.Method("cheque"), dec("1")), till.ErrUnknownMethod)
	require.Zero(t, s.SaleCount())
}

func TestOpenRejectsNegativeFloat(t *testing.T) {
	_, err := till.Open(1, 1, dec("-0.01"), opened)
	require.ErrorIs(t, err, till.ErrInvalidAmount)
}

func TestRestoreAndView(t *testing.T) {
	s, err := till.Restore(9, 3, dec("100"), opened, map[checkout.Method]decimal.Decimal{
		checkout.MethodCash:  dec("40"),
		checkout.MethodDebit: dec("60"),
	}, 4)
	require.NoError(t, err)
	require.NoError(t, s.ApplySale(checkout.MethodCash, dec("10")))

	view := s.View()
	require.Equal(t, int64(9), view.ID)
	require.Equal(t, 5, view.SaleCount)
	require.Equal(t, "150.00", view.ExpectedCashOnHand.StringFixed(2))
	require.Len(t, view.Totals, len(checkout.Methods()))
	require.True(t, view.Totals[checkout.MethodCredit].IsZero())
	require.Nil(t, view.Closing)
}
