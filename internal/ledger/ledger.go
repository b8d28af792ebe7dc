package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStorage marks ledger failures the caller must not swallow: a metering
// request whose write fails returns no cost and dispatches no alert.
var ErrStorage = errors.New("ledger storage failure")

// Record is one durable metering entry. Records are append-only: once
// inserted they are never mutated or deleted by this service.
type Record struct {
	ID         int64
	RecordedAt time.Time // assigned at orchestration time, UTC
	Model      string
	Tokens     int
	Cost       float64 // USD, already rounded to 6 decimals
	InputText  *string
	OutputText *string
	APIKeyHash string // sha256 hex of the caller's credential
}

// Validate checks the non-null constraints the schema enforces.
func (r *Record) Validate() error {
	if r.RecordedAt.IsZero() {
		return fmt.Errorf("record timestamp is required")
	}
	if r.Model == "" {
		return fmt.Errorf("record model is required")
	}
	if r.Tokens < 1 {
		return fmt.Errorf("record tokens must be >= 1, got %d", r.Tokens)
	}
	if r.Cost < 0 {
		return fmt.Errorf("record cost must be >= 0, got %v", r.Cost)
	}
	if r.APIKeyHash == "" {
		return fmt.Errorf("record api key hash is required")
	}
	return nil
}

type Store interface {
	// EnsureSchema creates the backing table if absent. Idempotent; must be
	// called before first use.
	EnsureSchema(ctx context.Context) error

	// Insert persists a record and assigns its ID. An exact natural
	// duplicate (same timestamp, model, tokens, cost, refs and caller hash)
	// silently coalesces with the existing row; the record's ID stays zero
	// and no error is returned.
	Insert(ctx context.Context, record *Record) error

	// FindByDate returns all records whose timestamp falls on the given UTC
	// calendar day, in insertion order. Each call re-executes the query.
	FindByDate(ctx context.Context, day time.Time) ([]*Record, error)
}

// ParseDay parses a YYYY-MM-DD date as a UTC day.
func ParseDay(date string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", date, err)
	}
	return day, nil
}

// Today returns the current UTC calendar day.
func Today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}
