package usage

import (
	"context"
	"encoding"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/llm-governor/internal/ledger"
)

// Mock Ledger Store
type mockStore struct {
	findByDateFunc func(ctx context.Context, day time.Time) ([]*ledger.Record, error)
}

func (m *mockStore) EnsureSchema(ctx context.Context) error { return nil }

func (m *mockStore) Insert(ctx context.Context, record *ledger.Record) error { return nil }

func (m *mockStore) FindByDate(ctx context.Context, day time.Time) ([]*ledger.Record, error) {
	if m.findByDateFunc != nil {
		return m.findByDateFunc(ctx, day)
	}
	return nil, nil
}

func recordsFor(day time.Time, costs map[string][]float64) []*ledger.Record {
	var records []*ledger.Record
	for model, cs := range costs {
		for _, c := range cs {
			records = append(records, &ledger.Record{
				RecordedAt: day.Add(time.Hour),
				Model:      model,
				Tokens:     100,
				Cost:       c,
				APIKeyHash: "hash",
			})
		}
	}
	return records
}

func TestSummarize_EmptyDay(t *testing.T) {
	agg := NewAggregator(&mockStore{}, nil)

	s, err := agg.Summarize(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if s.TotalRequests != 0 {
		t.Errorf("Expected 0 requests, got %d", s.TotalRequests)
	}
	if s.TotalCost != 0 {
		t.Errorf("Expected 0 total cost, got %v", s.TotalCost)
	}
	if s.SummaryText != "No requests processed on 2026-08-30." {
		t.Errorf("Unexpected narrative: %s", s.SummaryText)
	}
}

func TestSummarize_MultipleModels(t *testing.T) {
	store := &mockStore{
		findByDateFunc: func(ctx context.Context, day time.Time) ([]*ledger.Record, error) {
			return []*ledger.Record{
				{Model: "gpt-4o-mini", Cost: 0.0006, Tokens: 1000, RecordedAt: day, APIKeyHash: "h"},
				{Model: "gpt-4o-mini", Cost: 0.0006, Tokens: 1000, RecordedAt: day, APIKeyHash: "h"},
				{Model: "sonnet", Cost: 0.003, Tokens: 1000, RecordedAt: day, APIKeyHash: "h"},
			}, nil
		},
	}
	agg := NewAggregator(store, nil)

	s, err := agg.Summarize(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if s.TotalRequests != 3 {
		t.Errorf("Expected 3 requests, got %d", s.TotalRequests)
	}
	if s.TotalCost != 0.0042 {
		t.Errorf("Expected total 0.0042, got %v", s.TotalCost)
	}
	if s.CostByModel["gpt-4o-mini"] != 0.0012 {
		t.Errorf("Expected gpt-4o-mini 0.0012, got %v", s.CostByModel["gpt-4o-mini"])
	}
	if s.CostByModel["sonnet"] != 0.003 {
		t.Errorf("Expected sonnet 0.003, got %v", s.CostByModel["sonnet"])
	}
	if s.SummaryText != "On 2026-08-30, the system processed 3 requests costing $0.004200." {
		t.Errorf("Unexpected narrative: %s", s.SummaryText)
	}
}

func TestSummarize_SingularNarrative(t *testing.T) {
	store := &mockStore{
		findByDateFunc: func(ctx context.Context, day time.Time) ([]*ledger.Record, error) {
			return recordsFor(day, map[string][]float64{"gpt-4.1": {0.002}}), nil
		},
	}
	agg := NewAggregator(store, nil)

	s, err := agg.Summarize(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if s.SummaryText != "On 2026-08-30, the system processed 1 request costing $0.002000." {
		t.Errorf("Unexpected narrative: %s", s.SummaryText)
	}
}

func TestSummarize_ManySmallCostsNoDrift(t *testing.T) {
	// 1000 records of 0.000600 each must sum to exactly 0.600000; float
	// accumulation alone would drift below the 6th digit.
	store := &mockStore{
		findByDateFunc: func(ctx context.Context, day time.Time) ([]*ledger.Record, error) {
			costs := make([]float64, 1000)
			for i := range costs {
				costs[i] = 0.0006
			}
			return recordsFor(day, map[string][]float64{"gpt-4o-mini": costs}), nil
		},
	}
	agg := NewAggregator(store, nil)

	s, err := agg.Summarize(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.TotalCost != 0.6 {
		t.Errorf("Expected exact total 0.6, got %v", s.TotalCost)
	}
	if s.CostByModel["gpt-4o-mini"] != 0.6 {
		t.Errorf("Expected exact per-model total 0.6, got %v", s.CostByModel["gpt-4o-mini"])
	}
}

func TestSummarize_DefaultsToToday(t *testing.T) {
	var queried time.Time
	store := &mockStore{
		findByDateFunc: func(ctx context.Context, day time.Time) ([]*ledger.Record, error) {
			queried = day
			return nil, nil
		},
	}
	agg := NewAggregator(store, nil)

	s, err := agg.Summarize(context.Background(), "")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	today := ledger.Today()
	if !queried.Equal(today) {
		t.Errorf("Expected query for %v, got %v", today, queried)
	}
	if s.Date != ledger.FormatDay(today) {
		t.Errorf("Expected date %s, got %s", ledger.FormatDay(today), s.Date)
	}
}

func TestSummarize_InvalidDate(t *testing.T) {
	agg := NewAggregator(&mockStore{}, nil)

	if _, err := agg.Summarize(context.Background(), "31/08/2026"); err == nil {
		t.Error("Expected error for malformed date")
	}
}

// Stub Cache
type stubCache struct {
	data     map[string]string
	getCalls int
	setCalls int
	getErr   error
}

func newStubCache() *stubCache {
	return &stubCache{data: make(map[string]string)}
}

func (c *stubCache) Get(ctx context.Context, key string) *redis.StringCmd {
	c.getCalls++
	if c.getErr != nil {
		return redis.NewStringResult("", c.getErr)
	}
	if v, ok := c.data[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (c *stubCache) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	c.setCalls++
	if m, ok := value.(encoding.BinaryMarshaler); ok {
		b, err := m.MarshalBinary()
		if err == nil {
			c.data[key] = string(b)
		}
	}
	return redis.NewStatusResult("OK", nil)
}

func countingStore(calls *int, costs map[string][]float64) *mockStore {
	return &mockStore{
		findByDateFunc: func(ctx context.Context, day time.Time) ([]*ledger.Record, error) {
			*calls++
			return recordsFor(day, costs), nil
		},
	}
}

func TestSummarize_ClosedDayServedFromCache(t *testing.T) {
	calls := 0
	store := countingStore(&calls, map[string][]float64{"gpt-4.1": {0.002}})
	cache := newStubCache()
	agg := NewTestAggregator(store, cache)

	first, err := agg.Summarize(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("Expected 1 ledger query, got %d", calls)
	}
	if _, ok := cache.data["usage:daily:2026-08-30"]; !ok {
		t.Fatal("Expected closed-day summary cached under usage:daily:2026-08-30")
	}

	second, err := agg.Summarize(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected cached summary to skip the ledger, got %d queries", calls)
	}
	if second.TotalCost != first.TotalCost || second.TotalRequests != first.TotalRequests {
		t.Errorf("Cached summary differs: %+v vs %+v", second, first)
	}
	if second.SummaryText != first.SummaryText {
		t.Errorf("Cached narrative differs: %q vs %q", second.SummaryText, first.SummaryText)
	}
}

func TestSummarize_TodayNeverCached(t *testing.T) {
	// Today's record set is still growing; serving it from cache would
	// freeze financial totals for the TTL.
	calls := 0
	store := countingStore(&calls, map[string][]float64{"gpt-4.1": {0.002}})
	cache := newStubCache()
	agg := NewTestAggregator(store, cache)

	for i := 0; i < 2; i++ {
		if _, err := agg.Summarize(context.Background(), ""); err != nil {
			t.Fatalf("Summarize failed: %v", err)
		}
	}

	if calls != 2 {
		t.Errorf("Expected every open-day summary to hit the ledger, got %d queries", calls)
	}
	if cache.getCalls != 0 || cache.setCalls != 0 {
		t.Errorf("Expected cache untouched for today, got %d gets, %d sets", cache.getCalls, cache.setCalls)
	}
}

func TestSummarize_CacheErrorFallsBackToLedger(t *testing.T) {
	calls := 0
	store := countingStore(&calls, map[string][]float64{"sonnet": {0.003}})
	cache := newStubCache()
	cache.getErr = errors.New("redis down")
	agg := NewTestAggregator(store, cache)

	s, err := agg.Summarize(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected ledger fallback on cache error, got %d queries", calls)
	}
	if s.TotalCost != 0.003 {
		t.Errorf("Expected total 0.003, got %v", s.TotalCost)
	}
}

func TestSummarize_StorageErrorPropagates(t *testing.T) {
	store := &mockStore{
		findByDateFunc: func(ctx context.Context, day time.Time) ([]*ledger.Record, error) {
			return nil, ledger.ErrStorage
		},
	}
	agg := NewAggregator(store, nil)

	_, err := agg.Summarize(context.Background(), "2026-08-30")
	if !errors.Is(err, ledger.ErrStorage) {
		t.Errorf("Expected storage error, got %v", err)
	}
}
