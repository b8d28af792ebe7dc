package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/llm-governor/internal/ledger"
)

// Event is one metered call worth notifying about.
type Event struct {
	Model  string
	Tokens int
	Cost   float64
}

type webhookPayload struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
	Model  string  `json:"model"`
	Tokens int     `json:"tokens"`
}

type Options struct {
	Timeout   time.Duration // per-attempt delivery timeout, default: 5s
	Threshold float64       // minimum cost to alert on, default: 0 (every event)
	Workers   int           // default: 4
	QueueSize int           // default: 256
}

// Dispatcher delivers cost alerts to a webhook, best-effort. Notify never
// blocks the caller and no failure of any kind propagates out: delivery is
// one attempt per event, logged and discarded on error. A circuit breaker
// skips attempts entirely while the endpoint is down, so an unreachable
// webhook cannot pile up slow background work.
type Dispatcher struct {
	webhookURL string
	threshold  float64
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	queue      chan Event
	wg         sync.WaitGroup
}

func NewDispatcher(webhookURL string, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 256
	}

	settings := gobreaker.Settings{
		Name:        "cost-alert-webhook",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	d := &Dispatcher{
		webhookURL: webhookURL,
		threshold:  opts.Threshold,
		client:     &http.Client{Timeout: opts.Timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		queue:      make(chan Event, opts.QueueSize),
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range d.queue {
				d.deliver(ev)
			}
		}()
	}

	return d
}

// Notify enqueues a cost alert for the record. It returns immediately; if
// the queue is full the event is dropped and logged. Events below the
// configured threshold are not dispatched.
func (d *Dispatcher) Notify(record *ledger.Record) {
	if record.Cost < d.threshold {
		return
	}

	ev := Event{Model: record.Model, Tokens: record.Tokens, Cost: record.Cost}
	select {
	case d.queue <- ev:
	default:
		log.Printf("alert: queue full, dropping alert for model=%s cost=%v", ev.Model, ev.Cost)
	}
}

// Close stops accepting events and waits for in-flight deliveries to finish.
// Each attempt is bounded by the client timeout, so the drain is bounded too.
func (d *Dispatcher) Close() {
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ev Event) {
	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.post(ev)
	})
	if err != nil {
		log.Printf("alert: delivery failed for model=%s cost=%v: %v", ev.Model, ev.Cost, err)
	}
}

func (d *Dispatcher) post(ev Event) error {
	body, err := json.Marshal(webhookPayload{
		Type:   "cost_alert",
		Amount: ev.Cost,
		Model:  ev.Model,
		Tokens: ev.Tokens,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
