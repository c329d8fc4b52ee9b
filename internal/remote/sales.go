package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/checkout"
)

var (
	// ErrSaleNotStored is returned when the API accepted a sale but sent no id back.
	ErrSaleNotStored = errors.New("remote: sale was not stored")
	// ErrSaleNotFound is returned when cancelling an id the API does not know.
	ErrSaleNotFound = errors.New("remote: sale not found")
)

type paymentCode struct {
	name string
	id   int
}

// the API has a separate "on credit" method; everything else maps one to one
var paymentCodes = map[checkout.Method]paymentCode{
	checkout.MethodCash:   {"Dinheiro", 1},
	checkout.MethodDebit:  {"CartaoDebito", 2},
	checkout.MethodCredit: {"CartaoCredito", 3},
	checkout.MethodPix:    {"Pix", 4},
	checkout.MethodOther:  {"APrazo", 5},
}

// PaymentName translates a method to the API's payment name.
func PaymentName(m checkout.Method) (string, int, bool) {
	code, ok := paymentCodes[m]
	return code.name, code.id, ok
}

type itemVendaDTO struct {
	ProdutoID     int64       `json:"produtoId"`
	Descricao     string      `json:"descricao"`
	Quantidade    json.Number `json:"quantidade"`
	PrecoUnitario json.Number `json:"precoUnitario"`
	ValorDesconto json.Number `json:"valorDesconto"`
	Subtotal      json.Number `json:"subtotal"`
}

type vendaDTO struct {
	CaixaID          int64          `json:"caixaId"`
	ClienteID        *int64         `json:"clienteId,omitempty"`
	ValorBruto       json.Number    `json:"valorBruto"`
	ValorDesconto    json.Number    `json:"valorDesconto"`
	ValorTotal       json.Number    `json:"valorTotal"`
	FormaPagamento   string         `json:"formaPagamento"`
	FormaPagamentoID int            `json:"formaPagamentoId"`
	ValorPago        json.Number    `json:"valorPago"`
	ValorTroco       json.Number    `json:"valorTroco"`
	Status           string         `json:"status"`
	Observacoes      string         `json:"observacoes,omitempty"`
	Itens            []itemVendaDTO `json:"itens"`
}

type vendaCreatedDTO struct {
	ID          int64  `json:"id"`
	NumeroVenda string `json:"numeroVenda"`
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func quantity(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// Sales persists and cancels sales through the sales endpoints.
type Sales struct {
	Client *Client
}

// Submit posts the record. The record reference travels as Idempotency-Key
// so a repeated submit after a lost answer stores one sale.
func (s Sales) Submit(ctx context.Context, rec checkout.SaleRecord) (checkout.PersistedSale, error) {
	name, id, ok := PaymentName(rec.Method)
	if !ok {
		return checkout.PersistedSale{}, fmt.Errorf("remote: %w: %s", checkout.ErrUnknownMethod, rec.Method)
	}
	in := vendaDTO{
		CaixaID:          rec.TillID,
		ValorBruto:       money(rec.Gross),
		ValorDesconto:    money(rec.Discount),
		ValorTotal:       money(rec.Net),
		FormaPagamento:   name,
		FormaPagamentoID: id,
		ValorPago:        money(rec.AmountPaid),
		ValorTroco:       money(rec.Change),
		Status:           "Concluida",
		Itens:            make([]itemVendaDTO, 0, len(rec.Items)),
	}
	if rec.Customer != nil {
		customerID := rec.Customer.ID
		in.ClienteID = &customerID
	}
	for _, line := range rec.Items {
		in.Itens = append(in.Itens, itemVendaDTO{
			ProdutoID:     line.ProductID,
			Descricao:     line.Description,
			Quantidade:    quantity(line.Quantity),
			PrecoUnitario: money(line.UnitPrice),
			ValorDesconto: money(line.Discount),
			Subtotal:      money(line.Subtotal),
		})
	}

	var out vendaCreatedDTO
	found, err := s.Client.call(ctx, http.MethodPost, "vendas", in, &out, []requestOption{withHeader("Idempotency-Key", rec.Reference)})
	if err != nil {
		return checkout.PersistedSale{}, err
	}
	if !found || out.ID == 0 {
		return checkout.PersistedSale{}, ErrSaleNotStored
	}
	return checkout.PersistedSale{ID: out.ID, Number: out.NumeroVenda}, nil
}

// Cancel voids a stored sale with the operator's reason.
func (s Sales) Cancel(ctx context.Context, saleID int64, reason string) error {
	in := struct {
		Motivo string `json:"motivo"`
	}{Motivo: reason}
	found, err := s.Client.call(ctx, http.MethodPost, "vendas/"+strconv.FormatInt(saleID, 10)+"/cancelar", in, nil, nil)
	if err != nil {
		return err
	}
	if !found {
		return ErrSaleNotFound
	}
	return nil
}
