package stock

// Policy groups the stock validation settings consumed by the engine.
// It is passed in at construction so tests can vary behaviour without
// touching process state.
type Policy struct {
	// EnforceStockValidation enables availability checks on reserve and
	// negative guards on issue. When false the engine skips both.
	EnforceStockValidation bool
	// AllowNegativeStock permits on-hand and available quantities to go
	// negative even when validation is enforced.
	AllowNegativeStock bool
}

// DefaultPolicy validates availability and forbids negative stock.
func DefaultPolicy() Policy {
	return Policy{EnforceStockValidation: true}
}

// guardsShortfall reports whether a shortfall must be rejected.
func (p Policy) guardsShortfall() bool {
	return p.EnforceStockValidation && !p.AllowNegativeStock
}
