package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/checkout"
	"github.com/noah-isme/backend-pdv/internal/till"
)

var (
	// ErrTillNotFound is returned when closing a session id the API does not know.
	ErrTillNotFound = errors.New("remote: till session not found")
	// ErrTillNotOpened is returned when the open call answers without a session.
	ErrTillNotOpened = errors.New("remote: till session was not opened")
)

// apiTime accepts RFC 3339 and the zone-less timestamps the API emits.
type apiTime struct{ time.Time }

var apiTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.9999999", "2006-01-02T15:04:05"}

func (t *apiTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	for _, layout := range apiTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("remote: unrecognised timestamp %q", raw)
}

type caixaDTO struct {
	ID                 int64           `json:"id"`
	NumeroSessao       int             `json:"numeroSessao"`
	DataAbertura       apiTime         `json:"dataAbertura"`
	ValorAbertura      decimal.Decimal `json:"valorAbertura"`
	ValorDinheiro      decimal.Decimal `json:"valorDinheiro"`
	ValorCartaoDebito  decimal.Decimal `json:"valorCartaoDebito"`
	ValorCartaoCredito decimal.Decimal `json:"valorCartaoCredito"`
	ValorPix           decimal.Decimal `json:"valorPix"`
	ValorOutros        decimal.Decimal `json:"valorOutros"`
	QuantidadeVendas   int             `json:"quantidadeVendas"`
	Status             string          `json:"status"`
}

func (c caixaDTO) open() bool {
	return c.ID != 0 && !strings.EqualFold(c.Status, "Fechado")
}

func (c caixaDTO) session() (*till.Session, error) {
	totals := map[checkout.Method]decimal.Decimal{
		checkout.MethodCash:   c.ValorDinheiro,
		checkout.MethodDebit:  c.ValorCartaoDebito,
		checkout.MethodCredit: c.ValorCartaoCredito,
		checkout.MethodPix:    c.ValorPix,
		checkout.MethodOther:  c.ValorOutros,
	}
	openedAt := c.DataAbertura.Time
	if openedAt.IsZero() {
		openedAt = time.Now()
	}
	return till.Restore(c.ID, c.NumeroSessao, c.ValorAbertura, openedAt, totals, c.QuantidadeVendas)
}

// Tills implements the till store over the cash register endpoints.
type Tills struct {
	Client *Client
}

// GetOpenSession returns nil, nil when no session is open.
func (t Tills) GetOpenSession(ctx context.Context) (*till.Session, error) {
	var row caixaDTO
	found, err := t.Client.call(ctx, http.MethodGet, "caixa/aberto", nil, &row, nil)
	if err != nil || !found || !row.open() {
		return nil, err
	}
	return row.session()
}

// Open starts a session on the API with the opening float.
func (t Tills) Open(ctx context.Context, openingFloat decimal.Decimal) (*till.Session, error) {
	in := struct {
		ValorInicial json.Number `json:"valorInicial"`
	}{ValorInicial: money(openingFloat)}
	var row caixaDTO
	if _, err := t.Client.call(ctx, http.MethodPost, "caixa/abrir", in, &row, nil); err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, ErrTillNotOpened
	}
	return row.session()
}

// Close closes the session on the API.
func (t Tills) Close(ctx context.Context, id int64) error {
	found, err := t.Client.call(ctx, http.MethodPost, "caixa/"+strconv.FormatInt(id, 10)+"/fechar", struct{}{}, nil, nil)
	if err != nil {
		return err
	}
	if !found {
		return ErrTillNotFound
	}
	return nil
}
