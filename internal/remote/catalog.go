package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/catalog"
)

type produtoDTO struct {
	ID            int64           `json:"id"`
	CodigoBarras  string          `json:"codigoBarras"`
	Descricao     string          `json:"descricao"`
	UnidadeMedida catalog.Unit    `json:"unidadeMedida"`
	PrecoVenda    decimal.Decimal `json:"precoVenda"`
}

func (p produtoDTO) product() catalog.Product {
	unit := p.UnidadeMedida
	if unit == "" {
		unit = catalog.UnitUnit
	}
	return catalog.Product{
		ID:          p.ID,
		Barcode:     p.CodigoBarras,
		Description: p.Descricao,
		Unit:        unit,
		SalePrice:   p.PrecoVenda,
	}
}

// Catalog implements catalog.Lookup over the products endpoints.
type Catalog struct {
	Client *Client
}

var _ catalog.Lookup = Catalog{}

// FindByID returns nil, nil when the product does not exist.
func (c Catalog) FindByID(ctx context.Context, id int64) (*catalog.Product, error) {
	return c.findOne(ctx, "produtos/"+strconv.FormatInt(id, 10))
}

// FindByBarcode returns nil, nil when no product carries the code.
func (c Catalog) FindByBarcode(ctx context.Context, code string) (*catalog.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	return c.findOne(ctx, "produtos/codigo-barras/"+url.PathEscape(code))
}

// SearchByName returns the products whose description matches term.
func (c Catalog) SearchByName(ctx context.Context, term string) ([]catalog.Product, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	var rows []produtoDTO
	if _, err := c.Client.call(ctx, http.MethodGet, "produtos/search/"+url.PathEscape(term), nil, &rows, nil); err != nil {
		return nil, err
	}
	products := make([]catalog.Product, 0, len(rows))
	for _, row := range rows {
		p := row.product()
		if err := p.Validate(); err != nil {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func (c Catalog) findOne(ctx context.Context, path string) (*catalog.Product, error) {
	var row produtoDTO
	found, err := c.Client.call(ctx, http.MethodGet, path, nil, &row, nil)
	if err != nil || !found || row.ID == 0 {
		return nil, err
	}
	p := row.product()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("remote: product %d: %w", p.ID, err)
	}
	return &p, nil
}
