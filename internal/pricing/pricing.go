package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// CostScale is the number of fractional digits every surfaced cost carries.
// Records, summaries and alerts all round half-up at this scale so repeated
// rounding never drifts.
const CostScale = 6

// Table maps model identifiers to a price per token in USD. It is immutable
// after construction and safe to share across any number of goroutines.
type Table struct {
	prices       map[string]decimal.Decimal
	defaultModel string
}

// NewTable builds a price table from per-token USD prices. Lookups are
// case-insensitive. defaultModel must be present in prices; it is the rate
// applied to models the table does not know.
func NewTable(prices map[string]float64, defaultModel string) (*Table, error) {
	if len(prices) == 0 {
		return nil, fmt.Errorf("pricing: empty price table")
	}
	normalized := make(map[string]decimal.Decimal, len(prices))
	for model, price := range prices {
		normalized[strings.ToLower(model)] = decimal.NewFromFloat(price)
	}
	def := strings.ToLower(defaultModel)
	if _, ok := normalized[def]; !ok {
		return nil, fmt.Errorf("pricing: default model %q has no price", defaultModel)
	}
	return &Table{prices: normalized, defaultModel: def}, nil
}

// DefaultTable returns the built-in price table.
func DefaultTable() *Table {
	t, err := NewTable(map[string]float64{
		"gpt-4.1":     0.000002,
		"gpt-4o-mini": 0.0000006,
		"sonnet":      0.000003,
	}, "gpt-4.1")
	if err != nil {
		panic(err) // unreachable: the built-in table is well-formed
	}
	return t
}

// Lookup returns the per-token price for model. Unknown models price at the
// default model's rate; fallback reports whether that happened. This is a
// deliberately permissive policy: an unrecognized model is metered, not
// rejected.
func (t *Table) Lookup(model string) (price decimal.Decimal, fallback bool) {
	if p, ok := t.prices[strings.ToLower(model)]; ok {
		return p, false
	}
	return t.prices[t.defaultModel], true
}

// Models returns the known model identifiers, sorted.
func (t *Table) Models() []string {
	models := make([]string, 0, len(t.prices))
	for m := range t.prices {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Calculator turns (model, tokens) into a rounded USD cost. Pure and
// deterministic given its table.
type Calculator struct {
	table *Table
}

func NewCalculator(table *Table) *Calculator {
	return &Calculator{table: table}
}

// Cost returns price-per-token × tokens, rounded half-up to CostScale
// fractional digits. tokens < 1 is the caller's validation problem; the
// result is still deterministic.
func (c *Calculator) Cost(model string, tokens int) float64 {
	price, _ := c.table.Lookup(model)
	cost := price.Mul(decimal.NewFromInt(int64(tokens))).Round(CostScale)
	f, _ := cost.Float64()
	return f
}

// FormatUSD renders an amount with exactly CostScale fractional digits,
// rounding half-up.
func FormatUSD(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(CostScale)
}
