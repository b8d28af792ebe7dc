package metering

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"github.com/vnmchuo/llm-governor/internal/ledger"
	"github.com/vnmchuo/llm-governor/internal/pricing"
)

// Request is one priced call to meter. Input and Output are optional opaque
// payloads carried alongside the record.
type Request struct {
	Model  string
	Tokens int
	Input  *string
	Output *string
}

// Notifier receives a metered event after it has been durably recorded.
// Implementations must not block the caller.
type Notifier interface {
	Notify(record *ledger.Record)
}

// Orchestrator runs the metering pipeline: compute the cost, persist the
// record, hand it to the notifier, return the cost. A failed write aborts
// the whole call; no alert goes out for a record that was not persisted.
type Orchestrator struct {
	table    *pricing.Table
	calc     *pricing.Calculator
	store    ledger.Store
	notifier Notifier
}

func NewOrchestrator(table *pricing.Table, store ledger.Store, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		table:    table,
		calc:     pricing.NewCalculator(table),
		store:    store,
		notifier: notifier,
	}
}

// Meter prices the request, writes exactly one ledger record and triggers at
// most one notification attempt. The caller's secret is never stored; only
// its hash travels into the record.
func (o *Orchestrator) Meter(ctx context.Context, req Request, apiKey string) (float64, error) {
	apiKeyHash := HashKey(apiKey)
	start := time.Now()

	if _, fallback := o.table.Lookup(req.Model); fallback {
		log.Printf("metering: unknown model %q priced at default rate", req.Model)
	}
	cost := o.calc.Cost(req.Model, req.Tokens)

	record := &ledger.Record{
		RecordedAt: time.Now().UTC(),
		Model:      req.Model,
		Tokens:     req.Tokens,
		Cost:       cost,
		InputText:  req.Input,
		OutputText: req.Output,
		APIKeyHash: apiKeyHash,
	}

	if err := o.store.Insert(ctx, record); err != nil {
		return 0, err
	}

	// Persistence happens-before this; delivery itself is the notifier's
	// background concern and is never awaited.
	o.notifier.Notify(record)

	log.Printf("metering: processed model=%s tokens=%d cost=%s key=%s in %dms",
		req.Model, req.Tokens, pricing.FormatUSD(cost), apiKeyHash[:8], time.Since(start).Milliseconds())

	return cost, nil
}

// HashKey derives the stable caller hash: sha256 of the secret, hex encoded.
func HashKey(apiKey string) string {
	h := sha256.New()
	h.Write([]byte(apiKey))
	return hex.EncodeToString(h.Sum(nil))
}
