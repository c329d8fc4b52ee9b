package terminal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/cart"
	"github.com/noah-isme/backend-pdv/internal/catalog"
	"github.com/noah-isme/backend-pdv/internal/common"
)

// Handler exposes the lane over HTTP for the front-end.
type Handler struct {
	Terminal   *Terminal
	Dispatcher *Dispatcher
	Validator  *validator.Validate
	Idem       common.Idem
	// ScanLimit, when set, throttles the routes that hit the catalog.
	ScanLimit func(http.Handler) http.Handler
}

// Routes mounts the lane endpoints.
func (h *Handler) Routes(r chi.Router) {
	throttle := h.ScanLimit
	if throttle == nil {
		throttle = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.CancelSale)
		r.With(throttle).Post("/scan", h.Scan)
		r.Post("/items", h.AddProduct)
		r.Delete("/items/{index}", h.RemoveItem)
		r.Put("/items/{index}/quantity", h.SetQuantity)
		r.Put("/items/{index}/discount", h.SetLineDiscount)
		r.Put("/discount", h.SetDiscount)
		r.Put("/customer", h.SetCustomer)
		r.Delete("/customer", h.ClearCustomer)
	})
	r.Route("/sale", func(r chi.Router) {
		r.Get("/payment", h.GetPayment)
		r.Put("/payment", h.SetPayment)
		r.With(h.Idem.Middleware).Post("/finalize", h.Finalize)
	})
	r.Post("/sales/{id}/cancel", h.VoidSale)
	r.Route("/till", func(r chi.Router) {
		r.Get("/", h.GetTill)
		r.With(h.Idem.Middleware).Post("/open", h.OpenTill)
		r.With(h.Idem.Middleware).Post("/close", h.CloseTill)
	})
	r.Get("/commands", h.ListCommands)
	r.Post("/commands/{trigger}", h.Dispatch)
}

type scanRequest struct {
	Term string `json:"term" validate:"required,max=128"`
}

type amountRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

type quantityRequest struct {
	Quantity string `json:"quantity" validate:"required,numeric"`
}

type customerRequest struct {
	ID   int64  `json:"id" validate:"required,gt=0"`
	Name string `json:"name" validate:"max=120"`
}

type paymentRequest struct {
	Method   string `json:"method" validate:"required,oneof=cash debit credit pix other"`
	Tendered string `json:"tendered" validate:"omitempty,numeric"`
}

type productRequest struct {
	ID          int64        `json:"id" validate:"required,gt=0"`
	Barcode     string       `json:"barcode"`
	Description string       `json:"description" validate:"required"`
	Unit        catalog.Unit `json:"unit"`
	SalePrice   string       `json:"salePrice" validate:"required,numeric"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type openTillRequest struct {
	OpeningFloat string `json:"openingFloat" validate:"required,numeric"`
}

type closeTillRequest struct {
	CountedCash string `json:"countedCash" validate:"required,numeric"`
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Terminal.Cart()})
}

func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Terminal.CancelSale(r.Context())})
}

func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Terminal.Scan(r.Context(), req.Term)
	if err != nil {
		common.WriteError(w, err, "unable to resolve term")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, ok := parseDecimal(w, req.SalePrice, "salePrice")
	if !ok {
		return
	}
	unit := req.Unit
	if unit == "" {
		unit = catalog.UnitUnit
	}
	view, err := h.Terminal.AddProduct(catalog.Product{
		ID:          req.ID,
		Barcode:     req.Barcode,
		Description: req.Description,
		Unit:        unit,
		SalePrice:   price,
	})
	if err != nil {
		common.WriteError(w, err, "unable to add product")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndex(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Terminal.RemoveItem(index)})
}

func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndex(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	qty, ok := parseDecimal(w, req.Quantity, "quantity")
	if !ok {
		return
	}
	h.respondCart(w, func() (cart.View, error) { return h.Terminal.SetQuantity(index, qty) })
}

func (h *Handler) SetLineDiscount(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndex(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseDecimal(w, req.Amount, "amount")
	if !ok {
		return
	}
	h.respondCart(w, func() (cart.View, error) { return h.Terminal.SetLineDiscount(index, amount) })
}

func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseDecimal(w, req.Amount, "amount")
	if !ok {
		return
	}
	h.respondCart(w, func() (cart.View, error) { return h.Terminal.SetDiscount(amount) })
}

func (h *Handler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !h.decode(w, r, &req) {
		return
	}
	view := h.Terminal.SelectCustomer(&cart.CustomerRef{ID: req.ID, Name: strings.TrimSpace(req.Name)})
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) ClearCustomer(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Terminal.SelectCustomer(nil)})
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Terminal.PaymentView()})
}

func (h *Handler) SetPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	tendered := decimal.Zero
	if req.Tendered != "" {
		var ok bool
		if tendered, ok = parseDecimal(w, req.Tendered, "tendered"); !ok {
			return
		}
	}
	view, err := h.Terminal.SetPayment(req.Method, tendered)
	if err != nil {
		common.WriteError(w, err, "unable to set payment")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Finalize accepts an optional payment in the body; without one the
// payment set earlier is used.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var (
		receipt Receipt
		err     error
	)
	if r.ContentLength != 0 {
		var req paymentRequest
		if !h.decode(w, r, &req) {
			return
		}
		tendered := decimal.Zero
		if req.Tendered != "" {
			var ok bool
			if tendered, ok = parseDecimal(w, req.Tendered, "tendered"); !ok {
				return
			}
		}
		receipt, err = h.Terminal.FinalizeWith(r.Context(), req.Method, tendered)
	} else {
		receipt, err = h.Terminal.Finalize(r.Context())
	}
	if err != nil {
		common.WriteError(w, err, "unable to finalize sale")
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": receipt})
}

func (h *Handler) VoidSale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid sale id", nil)
		return
	}
	var req voidRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Terminal.VoidSale(r.Context(), id, strings.TrimSpace(req.Reason)); err != nil {
		common.WriteError(w, err, "unable to cancel sale")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetTill(w http.ResponseWriter, r *http.Request) {
	view := h.Terminal.Till()
	if view == nil {
		common.JSONError(w, http.StatusNotFound, "TILL_NOT_OPEN", ErrNoOpenTill.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) OpenTill(w http.ResponseWriter, r *http.Request) {
	var req openTillRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseDecimal(w, req.OpeningFloat, "openingFloat")
	if !ok {
		return
	}
	view, err := h.Terminal.OpenTill(r.Context(), amount)
	if err != nil {
		common.WriteError(w, err, "unable to open till")
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

func (h *Handler) CloseTill(w http.ResponseWriter, r *http.Request) {
	var req closeTillRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseDecimal(w, req.CountedCash, "countedCash")
	if !ok {
		return
	}
	rec, err := h.Terminal.CloseTill(r.Context(), amount)
	if err != nil {
		common.WriteError(w, err, "unable to close till")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Dispatcher.Bindings()})
}

func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.Dispatcher.Dispatch(r.Context(), chi.URLParam(r, "trigger"))
	if err != nil {
		common.WriteError(w, err, "unable to run command")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

func (h *Handler) respondCart(w http.ResponseWriter, fn func() (cart.View, error)) {
	view, err := fn()
	if err != nil {
		common.WriteError(w, err, "unable to update cart")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", map[string]any{"error": err.Error()})
		return false
	}
	if h.Validator == nil {
		return true
	}
	if err := h.Validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		fields := map[string]string{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "invalid request", fields)
		return false
	}
	return true
}

func lineIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid line index", nil)
		return 0, false
	}
	return index, true
}

func parseDecimal(w http.ResponseWriter, raw, field string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "invalid request", map[string]string{field: "decimal"})
		return decimal.Zero, false
	}
	return d, true
}
