// Package overview provides the HTTP handlers behind the trading overview
// page: equity and win-rate series per exchange and across all exchanges,
// headline summaries, CSV export and position ingestion.
//
// All monetary values use shopspring/decimal — never float64 for money.
package overview

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantdash/overview-engine/internal/collector"
	"github.com/quantdash/overview-engine/internal/exchange"
	"github.com/quantdash/overview-engine/internal/metrics"
	"github.com/quantdash/overview-engine/internal/model"
	"github.com/quantdash/overview-engine/internal/series"
	"github.com/quantdash/overview-engine/internal/store"
)

// maxIngestBytes bounds the body of a single ingest request.
const maxIngestBytes = 16 << 20

// Service serves series computed from the positions of a Source. When the
// source is a store, st is the same store and ingestion is enabled; in
// remote mode st is nil.
type Service struct {
	src       collector.Source
	st        store.Store
	collector *collector.Collector
	exchanges []string
	now       func() time.Time
}

// NewService creates an overview service. exchanges is the default set for
// the aggregate view and must already be normalised. Pass nil for st when
// positions come from the trading service.
func NewService(src collector.Source, st store.Store, col *collector.Collector, exchanges []string) *Service {
	return &Service{
		src:       src,
		st:        st,
		collector: col,
		exchanges: exchanges,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// --- Request/Response types ---

// IngestResponse is the JSON body returned from POST /positions.
type IngestResponse struct {
	Ingested int      `json:"ingested"`
	IDs      []string `json:"ids"`
}

// ExchangesResponse lists the exchanges the overview knows about.
type ExchangesResponse struct {
	Configured []string `json:"configured"`
	Stored     []string `json:"stored,omitempty"`
	All        []string `json:"all"`
}

// SummaryResponse carries per-exchange summaries and, for the combined
// view, the aggregate summary.
type SummaryResponse struct {
	Exchanges   []model.Summary         `json:"exchanges"`
	Aggregate   *model.Summary          `json:"aggregate,omitempty"`
	Failed      []model.ExchangeFailure `json:"failed,omitempty"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// --- HTTP Handlers ---

// Health handles GET /health. It reports the storage as unavailable when a
// store is configured and cannot be reached.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if s.st != nil {
		if err := s.st.Ping(r.Context()); err != nil {
			slog.Warn("health check: store unreachable", "err", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status, "service": "overview-engine"})
}

// ListExchanges handles GET /api/v1/exchanges
func (s *Service) ListExchanges(w http.ResponseWriter, r *http.Request) {
	resp := ExchangesResponse{Configured: s.exchanges}
	if s.st != nil {
		stored, err := s.st.ListExchanges(r.Context())
		if err != nil {
			writeError(w, "failed to list exchanges", http.StatusInternalServerError)
			return
		}
		resp.Stored = stored
	}
	resp.All = mergeExchanges(resp.Configured, resp.Stored)
	writeJSON(w, http.StatusOK, resp)
}

// ListPositions handles GET /api/v1/positions?exchange=X
// Returns the raw records of one exchange as the source reports them.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	ex, ok := exchangeParam(w, r)
	if !ok {
		return
	}

	positions, err := s.src.ListPositions(r.Context(), ex)
	if err != nil {
		slog.Error("list positions failed", "exchange", ex, "err", err)
		writeError(w, "failed to load positions for "+ex, http.StatusBadGateway)
		return
	}
	if positions == nil {
		positions = []model.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// IngestPositions handles POST /api/v1/positions
// Accepts a JSON array of records and upserts them by id. Records without
// an id get a generated one.
func (s *Service) IngestPositions(w http.ResponseWriter, r *http.Request) {
	if s.st == nil {
		writeError(w, "ingestion is disabled: positions are read from the trading service", http.StatusConflict)
		return
	}

	var positions []model.PositionRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBytes)).Decode(&positions); err != nil {
		writeError(w, "invalid request body: expected a JSON array of positions", http.StatusBadRequest)
		return
	}
	if len(positions) == 0 {
		writeError(w, "no positions given", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	for i := range positions {
		p := &positions[i]
		ex, err := exchange.Normalize(p.Exchange)
		if err != nil {
			writeError(w, fmt.Sprintf("positions[%d]: %v", i, err), http.StatusBadRequest)
			return
		}
		p.Exchange = ex
		p.Status = strings.ToLower(strings.TrimSpace(p.Status))
		if !model.ValidStatus(p.Status) {
			writeError(w, fmt.Sprintf("positions[%d]: unknown status %q", i, p.Status), http.StatusBadRequest)
			return
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
	}

	if err := s.st.InsertPositions(r.Context(), positions); err != nil {
		if errors.Is(err, store.ErrMissingID) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("ingest positions failed", "count", len(positions), "err", err)
		writeError(w, "failed to store positions", http.StatusInternalServerError)
		return
	}

	ids := make([]string, len(positions))
	perExchange := make(map[string]int)
	for i, p := range positions {
		ids[i] = p.ID
		perExchange[p.Exchange]++
	}
	for ex, n := range perExchange {
		metrics.PositionsIngested.WithLabelValues(ex).Add(float64(n))
	}

	slog.Info("positions ingested",
		"count", len(positions),
		"exchanges", len(perExchange),
	)

	writeJSON(w, http.StatusCreated, IngestResponse{Ingested: len(positions), IDs: ids})
}

// GetSeries handles GET /api/v1/series?exchange=X
func (s *Service) GetSeries(w http.ResponseWriter, r *http.Request) {
	ex, ok := exchangeParam(w, r)
	if !ok {
		return
	}

	report, err := s.single(r, ex)
	if err != nil {
		writeError(w, "failed to load positions for "+ex, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetAggregateSeries handles GET /api/v1/series/aggregate[?exchanges=a,b]
// Exchanges whose positions cannot be fetched contribute nothing and are
// listed under "failed".
func (s *Service) GetAggregateSeries(w http.ResponseWriter, r *http.Request) {
	exchanges, ok := s.exchangesParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.aggregate(r, exchanges))
}

// ExportCSV handles GET /api/v1/series/export.csv?exchange=X|aggregate&kind=equity|win_rate
func (s *Service) ExportCSV(w http.ResponseWriter, r *http.Request) {
	kind, err := series.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		report model.SeriesReport
		name   string
	)
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("exchange")), exchange.Aggregate) {
		exchanges, ok := s.exchangesParam(w, r)
		if !ok {
			return
		}
		report, name = s.aggregate(r, exchanges), exchange.Aggregate
	} else {
		ex, ok := exchangeParam(w, r)
		if !ok {
			return
		}
		if report, err = s.single(r, ex); err != nil {
			writeError(w, "failed to load positions for "+ex, http.StatusBadGateway)
			return
		}
		name = ex
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"-"+string(kind)+".csv"))
	if err := series.WriteCSV(w, report.Series, kind); err != nil {
		slog.Error("csv export failed", "exchange", name, "kind", kind, "err", err)
	}
}

// GetSummary handles GET /api/v1/summary[?exchange=X]
// Without an exchange it summarises every configured exchange and the
// combined curve.
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("exchange") != "" {
		ex, ok := exchangeParam(w, r)
		if !ok {
			return
		}
		report, err := s.single(r, ex)
		if err != nil {
			writeError(w, "failed to load positions for "+ex, http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, SummaryResponse{
			Exchanges:   []model.Summary{series.Summarize(ex, report.Series)},
			GeneratedAt: report.GeneratedAt,
		})
		return
	}

	exchanges, ok := s.exchangesParam(w, r)
	if !ok {
		return
	}
	col := s.collector.Collect(r.Context(), exchanges)

	resp := SummaryResponse{
		Exchanges:   make([]model.Summary, 0, len(col.Results)),
		Failed:      col.Failures(),
		GeneratedAt: s.now(),
	}
	for _, res := range col.Results {
		resp.Exchanges = append(resp.Exchanges, series.Summarize(res.Exchange, series.Compute(res.Positions)))
	}
	agg := series.Summarize(exchange.Aggregate, s.computeAggregate(col))
	resp.Aggregate = &agg

	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func (s *Service) single(r *http.Request, ex string) (model.SeriesReport, error) {
	positions, err := s.src.ListPositions(r.Context(), ex)
	if err != nil {
		slog.Error("series: positions unavailable", "exchange", ex, "err", err)
		return model.SeriesReport{}, err
	}

	start := time.Now()
	result := series.Compute(positions)
	observe("single", result)

	slog.Debug("series computed",
		"exchange", ex,
		"positions", len(positions),
		"points", result.Len(),
		"elapsed", time.Since(start),
	)

	return model.SeriesReport{
		Exchanges:   []string{ex},
		Series:      result,
		GeneratedAt: s.now(),
	}, nil
}

func (s *Service) aggregate(r *http.Request, exchanges []string) model.SeriesReport {
	col := s.collector.Collect(r.Context(), exchanges)
	result := s.computeAggregate(col)

	failed := col.Failures()
	if len(failed) > 0 {
		slog.Info("aggregate series computed with missing exchanges",
			"exchanges", len(exchanges),
			"failed", len(failed),
			"points", result.Len(),
		)
	}

	return model.SeriesReport{
		Exchanges:   col.Exchanges(),
		Series:      result,
		Failed:      failed,
		GeneratedAt: s.now(),
	}
}

func (s *Service) computeAggregate(col collector.Collection) model.Series {
	result := series.ComputeAggregate(col.ByExchange())
	observe("aggregate", result)
	return result
}

func observe(mode string, result model.Series) {
	metrics.SeriesComputed.WithLabelValues(mode).Inc()
	metrics.SeriesPoints.WithLabelValues(mode).Observe(float64(result.Len()))
}

// exchangeParam reads and validates the required ?exchange= parameter,
// writing a 400 on failure.
func exchangeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("exchange")
	if strings.TrimSpace(raw) == "" {
		writeError(w, "exchange is required", http.StatusBadRequest)
		return "", false
	}
	ex, err := exchange.Normalize(raw)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return ex, true
}

// exchangesParam reads the optional ?exchanges=a,b list, falling back to
// the configured set.
func (s *Service) exchangesParam(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	raw := r.URL.Query().Get("exchanges")
	if strings.TrimSpace(raw) == "" {
		out := make([]string, len(s.exchanges))
		copy(out, s.exchanges)
		return out, true
	}
	exchanges, err := exchange.ParseList(raw)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return exchanges, true
}

// mergeExchanges appends the stored exchanges missing from configured, in
// sorted order.
func mergeExchanges(configured, stored []string) []string {
	seen := make(map[string]bool, len(configured))
	out := make([]string, 0, len(configured)+len(stored))
	for _, ex := range configured {
		seen[ex] = true
		out = append(out, ex)
	}
	extra := make([]string, 0, len(stored))
	for _, ex := range stored {
		if !seen[ex] {
			seen[ex] = true
			extra = append(extra, ex)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
