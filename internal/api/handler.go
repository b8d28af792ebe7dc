package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/llm-governor/internal/auth"
	"github.com/vnmchuo/llm-governor/internal/ledger"
	"github.com/vnmchuo/llm-governor/internal/metering"
	"github.com/vnmchuo/llm-governor/internal/pricing"
	"github.com/vnmchuo/llm-governor/internal/usage"
)

type Meterer interface {
	Meter(ctx context.Context, req metering.Request, apiKey string) (float64, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, date string) (*usage.Summary, error)
}

type Handler struct {
	meterer    Meterer
	summarizer Summarizer
	table      *pricing.Table
	tracer     trace.Tracer
}

func NewHandler(meterer Meterer, summarizer Summarizer, table *pricing.Table, tracer trace.Tracer) *Handler {
	return &Handler{
		meterer:    meterer,
		summarizer: summarizer,
		table:      table,
		tracer:     tracer,
	}
}

type processRequest struct {
	Model  string  `json:"model"`
	Tokens int     `json:"tokens"`
	Input  *string `json:"input"`
	Output *string `json:"output"`
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apiKey := auth.GetAPIKey(ctx)
	if apiKey == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	if req.Model == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "model is required"})
		return
	}
	if req.Tokens < 1 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "tokens must be at least 1"})
		return
	}

	_, span := h.tracer.Start(ctx, "metering.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", auth.GetRequestID(ctx)),
		attribute.String("model", req.Model),
		attribute.Int("tokens", req.Tokens),
	)

	cost, err := h.meterer.Meter(ctx, metering.Request{
		Model:  req.Model,
		Tokens: req.Tokens,
		Input:  req.Input,
		Output: req.Output,
	}, apiKey)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "failed to record request"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]float64{"requestCost": cost})
}

func (h *Handler) HandleDailyUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := ledger.ParseDay(date); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid 'date' format (use YYYY-MM-DD)"})
			return
		}
	}

	_, span := h.tracer.Start(ctx, "metering.daily_usage")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", auth.GetRequestID(ctx)),
		attribute.String("date", date),
	)

	summary, err := h.summarizer.Summarize(ctx, date)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "failed to compute usage"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(summary)
}

func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string][]string{"models": h.table.Models()})
}
