package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vnmchuo/llm-governor/internal/ledger"
	"github.com/vnmchuo/llm-governor/internal/pricing"
)

// cacheTTL bounds how long a closed day's summary lives in Redis. Closed days
// are immutable (timestamps are server-assigned), so the TTL only bounds
// memory, not staleness.
const cacheTTL = 24 * time.Hour

// Summary is the derived daily view. It is recomputed per query and never
// persisted to the ledger.
type Summary struct {
	Date          string             `json:"date"`
	TotalRequests int                `json:"totalRequests"`
	TotalCost     float64            `json:"totalCost"`
	CostByModel   map[string]float64 `json:"costByModel"`
	SummaryText   string             `json:"summary"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (s *Summary) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (s *Summary) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// Cache is the slice of the redis client the aggregator uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Aggregator produces daily usage summaries from the ledger. Read-only and
// safe to call concurrently with writes; a summary reflects whatever records
// had committed when its query ran.
type Aggregator struct {
	store ledger.Store
	cache Cache // optional; nil disables closed-day caching
}

func NewAggregator(store ledger.Store, cache *redis.Client) *Aggregator {
	a := &Aggregator{store: store}
	// A nil *redis.Client must stay a nil interface, or the cache checks
	// below would pass and every Get would panic.
	if cache != nil {
		a.cache = cache
	}
	return a
}

func NewTestAggregator(store ledger.Store, cache Cache) *Aggregator {
	return &Aggregator{store: store, cache: cache}
}

// Summarize aggregates all records for the given YYYY-MM-DD date. An empty
// date means the current UTC day.
func (a *Aggregator) Summarize(ctx context.Context, date string) (*Summary, error) {
	var day time.Time
	if date == "" {
		day = ledger.Today()
	} else {
		var err error
		day, err = ledger.ParseDay(date)
		if err != nil {
			return nil, err
		}
	}
	dateStr := ledger.FormatDay(day)

	// Only closed days are cacheable; today's record set is still growing.
	closed := day.Before(ledger.Today())
	cacheKey := fmt.Sprintf("usage:daily:%s", dateStr)

	if a.cache != nil && closed {
		var cached Summary
		err := a.cache.Get(ctx, cacheKey).Scan(&cached)
		if err == nil {
			return &cached, nil
		} else if err != redis.Nil {
			log.Printf("usage: redis error: %v", err)
		}
	}

	records, err := a.store.FindByDate(ctx, day)
	if err != nil {
		return nil, err
	}

	summary := build(dateStr, records)

	if a.cache != nil && closed {
		if err := a.cache.Set(ctx, cacheKey, summary, cacheTTL).Err(); err != nil {
			log.Printf("usage: failed to cache summary for %s: %v", dateStr, err)
		}
	}

	return summary, nil
}

// build sums the already-rounded per-record costs exactly, then rounds once
// at the end; each per-model group rounds independently. Accumulating with
// intermediate rounding would compound drift across many small records.
func build(date string, records []*ledger.Record) *Summary {
	total := decimal.Zero
	byModel := make(map[string]decimal.Decimal)
	for _, r := range records {
		cost := decimal.NewFromFloat(r.Cost)
		total = total.Add(cost)
		byModel[r.Model] = byModel[r.Model].Add(cost)
	}

	costByModel := make(map[string]float64, len(byModel))
	for model, sum := range byModel {
		f, _ := sum.Round(pricing.CostScale).Float64()
		costByModel[model] = f
	}
	totalRounded := total.Round(pricing.CostScale)
	totalCost, _ := totalRounded.Float64()

	return &Summary{
		Date:          date,
		TotalRequests: len(records),
		TotalCost:     totalCost,
		CostByModel:   costByModel,
		SummaryText:   narrative(date, len(records), totalRounded),
	}
}

func narrative(date string, count int, total decimal.Decimal) string {
	formatted := total.StringFixed(pricing.CostScale)
	switch count {
	case 0:
		return fmt.Sprintf("No requests processed on %s.", date)
	case 1:
		return fmt.Sprintf("On %s, the system processed 1 request costing $%s.", date, formatted)
	default:
		return fmt.Sprintf("On %s, the system processed %d requests costing $%s.", date, count, formatted)
	}
}
