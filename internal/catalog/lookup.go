package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pdv/internal/scale"
)

// Lookup is the remote catalog contract. Absence is reported as a nil product
// and a nil error.
type Lookup interface {
	FindByBarcode(ctx context.Context, code string) (*Product, error)
	FindByID(ctx context.Context, id int64) (*Product, error)
	SearchByName(ctx context.Context, term string) ([]Product, error)
}

// Outcome classifies a resolution attempt.
type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeEmpty     Outcome = "empty"
)

// Strategy names the lookup that produced a match.
type Strategy string

const (
	StrategyScale   Strategy = "scale"
	StrategyBarcode Strategy = "barcode"
	StrategyID      Strategy = "id"
	StrategyName    Strategy = "name"
)

// Resolution is the result of resolving a raw search term.
type Resolution struct {
	Term           string
	Outcome        Outcome
	Strategy       Strategy
	Product        *Product
	Candidates     []Product
	EmbeddedAmount *decimal.Decimal
}

// Resolver turns scanned codes and typed terms into catalog products.
type Resolver struct {
	Lookup  Lookup
	Decoder scale.Decoder
}

// Resolve tries, in order: scale label (product id + embedded amount), plain
// barcode and then internal id for numeric terms, then name search. Not-found
// results fall through to the next strategy; lookup errors are returned
// unchanged. A scale label whose product id is unknown skips the id stage.
func (r Resolver) Resolve(ctx context.Context, raw string) (Resolution, error) {
	term := strings.TrimSpace(raw)
	res := Resolution{Term: term, Outcome: OutcomeNotFound}
	if term == "" {
		res.Outcome = OutcomeEmpty
		return res, nil
	}
	if r.Lookup == nil {
		return res, fmt.Errorf("catalog: lookup not configured")
	}

	decoded := r.Decoder.Decode(term)
	if decoded.IsWeighable {
		product, err := r.Lookup.FindByID(ctx, decoded.ProductID)
		if err != nil {
			return res, fmt.Errorf("find product %d: %w", decoded.ProductID, err)
		}
		if product != nil {
			amount := decoded.EmbeddedAmount
			res.Outcome = OutcomeMatched
			res.Strategy = StrategyScale
			res.Product = product
			res.EmbeddedAmount = &amount
			return res, nil
		}
	}

	if isNumeric(term) {
		product, err := r.Lookup.FindByBarcode(ctx, term)
		if err != nil {
			return res, fmt.Errorf("find barcode %s: %w", term, err)
		}
		if product != nil {
			res.Outcome = OutcomeMatched
			res.Strategy = StrategyBarcode
			res.Product = product
			return res, nil
		}
		if id, err := strconv.ParseInt(term, 10, 64); err == nil && id > 0 && !decoded.IsWeighable {
			product, err := r.Lookup.FindByID(ctx, id)
			if err != nil {
				return res, fmt.Errorf("find product %d: %w", id, err)
			}
			if product != nil {
				res.Outcome = OutcomeMatched
				res.Strategy = StrategyID
				res.Product = product
				return res, nil
			}
		}
	}

	products, err := r.Lookup.SearchByName(ctx, term)
	if err != nil {
		return res, fmt.Errorf("search %q: %w", term, err)
	}
	res.Strategy = StrategyName
	switch len(products) {
	case 0:
		res.Outcome = OutcomeNotFound
	case 1:
		p := products[0]
		res.Outcome = OutcomeMatched
		res.Product = &p
	default:
		res.Outcome = OutcomeAmbiguous
		res.Candidates = products
	}
	return res, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
