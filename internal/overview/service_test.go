package overview_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/quantdash/overview-engine/internal/collector"
	"github.com/quantdash/overview-engine/internal/model"
	"github.com/quantdash/overview-engine/internal/overview"
	"github.com/quantdash/overview-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// flakySource fails the listed exchanges and delegates the rest.
type flakySource struct {
	collector.Source
	errs map[string]error
}

func (f flakySource) ListPositions(ctx context.Context, exchange string) ([]model.PositionRecord, error) {
	if err := f.errs[exchange]; err != nil {
		return nil, err
	}
	return f.Source.ListPositions(ctx, exchange)
}

func routes(svc *overview.Service) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", svc.Health)
	r.Get("/api/v1/exchanges", svc.ListExchanges)
	r.Get("/api/v1/positions", svc.ListPositions)
	r.Post("/api/v1/positions", svc.IngestPositions)
	r.Get("/api/v1/series", svc.GetSeries)
	r.Get("/api/v1/series/aggregate", svc.GetAggregateSeries)
	r.Get("/api/v1/series/export.csv", svc.ExportCSV)
	r.Get("/api/v1/summary", svc.GetSummary)
	return r
}

// newTestEnv creates a store-mode Service over an in-memory store. Exchanges
// in failing return an error from the source.
func newTestEnv(t *testing.T, failing map[string]error) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	src := flakySource{Source: ms, errs: failing}
	svc := overview.NewService(src, ms, collector.New(src, 4, 0), []string{"binance", "okx"})
	return ms, routes(svc)
}

func do(t *testing.T, router chi.Router, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const binanceTrades = `[
	{"id":"b1","exchange":"binance","status":"closed","realized_pnl":"-4","updated_at":"2024-01-01T00:00:00Z"},
	{"id":"b2","exchange":"binance","status":"open","realized_pnl":null,"updated_at":"2024-01-01T12:00:00Z"},
	{"id":"b3","exchange":"binance","status":"closed","realized_pnl":6,"updated_at":"2024-01-02T00:00:00Z"},
	{"id":"b4","exchange":"binance","status":"closed","realized_pnl":"10","updated_at":"2024-01-03T00:00:00Z"}
]`

func seed(t *testing.T, router chi.Router, body string) {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/v1/positions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("seed: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func decodeReport(t *testing.T, w *httptest.ResponseRecorder) model.SeriesReport {
	t.Helper()
	var report model.SeriesReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v: %s", err, w.Body.String())
	}
	return report
}

// --- Series ---

func TestGetSeries_SingleExchange(t *testing.T) {
	_, router := newTestEnv(t, nil)
	seed(t, router, binanceTrades)

	w := do(t, router, http.MethodGet, "/api/v1/series?exchange=Binance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report := decodeReport(t, w)

	if len(report.Exchanges) != 1 || report.Exchanges[0] != "binance" {
		t.Errorf("expected exchanges [binance], got %v", report.Exchanges)
	}
	if report.Series.Len() != 3 {
		t.Fatalf("expected 3 points (open record ignored), got %d", report.Series.Len())
	}
	wantEquity := []float64{-4, 2, 12}
	wantRate := []float64{0, 50, 66.67}
	for i := range wantEquity {
		if !report.Series.Equity[i].Equity.Equal(d(wantEquity[i])) {
			t.Errorf("equity[%d] = %s, want %v", i, report.Series.Equity[i].Equity, wantEquity[i])
		}
		if !report.Series.WinRate[i].WinRate.Round(2).Equal(d(wantRate[i])) {
			t.Errorf("win_rate[%d] = %s, want %v", i, report.Series.WinRate[i].WinRate, wantRate[i])
		}
	}
	if report.Series.Equity[0].Date != "2024-01-01T00:00:00Z" {
		t.Errorf("expected raw updated_at as date label, got %q", report.Series.Equity[0].Date)
	}
	if report.GeneratedAt.IsZero() {
		t.Error("expected generated_at")
	}
}

func TestGetSeries_EmptyExchangeHasEmptyArrays(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, http.MethodGet, "/api/v1/series?exchange=okx", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"equity":[]`) || !strings.Contains(w.Body.String(), `"win_rate":[]`) {
		t.Errorf("expected empty arrays, got %s", w.Body.String())
	}
}

func TestGetSeries_Validation(t *testing.T) {
	_, router := newTestEnv(t, nil)

	for _, target := range []string{
		"/api/v1/series",
		"/api/v1/series?exchange=aggregate",
		"/api/v1/series?exchange=bad%20name",
	} {
		w := do(t, router, http.MethodGet, target, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"error"`) {
			t.Errorf("%s: expected JSON error body, got %s", target, w.Body.String())
		}
	}
}

func TestGetSeries_SourceFailure(t *testing.T) {
	_, router := newTestEnv(t, map[string]error{"okx": errors.New("timeout")})

	w := do(t, router, http.MethodGet, "/api/v1/series?exchange=okx", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestGetAggregateSeries_MergesExchanges(t *testing.T) {
	_, router := newTestEnv(t, nil)
	seed(t, router, binanceTrades)
	seed(t, router, `[
		{"id":"o1","exchange":"okx","status":"closed","realized_pnl":"-1","updated_at":"2024-01-01T06:00:00Z"}
	]`)

	w := do(t, router, http.MethodGet, "/api/v1/series/aggregate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report := decodeReport(t, w)

	if report.Series.Len() != 4 {
		t.Fatalf("expected 4 points, got %d", report.Series.Len())
	}
	want := []float64{-4, -5, 1, 11}
	for i, v := range want {
		if !report.Series.Equity[i].Equity.Equal(d(v)) {
			t.Errorf("equity[%d] = %s, want %v", i, report.Series.Equity[i].Equity, v)
		}
	}
	if len(report.Failed) != 0 {
		t.Errorf("expected no failures, got %v", report.Failed)
	}
}

func TestGetAggregateSeries_FailedExchangeReported(t *testing.T) {
	_, router := newTestEnv(t, map[string]error{"okx": errors.New("connection refused")})
	seed(t, router, binanceTrades)

	agg := decodeReport(t, do(t, router, http.MethodGet, "/api/v1/series/aggregate", ""))
	single := decodeReport(t, do(t, router, http.MethodGet, "/api/v1/series?exchange=binance", ""))

	if len(agg.Failed) != 1 || agg.Failed[0].Exchange != "okx" {
		t.Fatalf("expected okx in failed, got %v", agg.Failed)
	}
	if agg.Series.Len() != single.Series.Len() {
		t.Fatalf("aggregate with a failed exchange should equal the healthy one: %d vs %d",
			agg.Series.Len(), single.Series.Len())
	}
	for i := range agg.Series.Equity {
		if !agg.Series.Equity[i].Equity.Equal(single.Series.Equity[i].Equity) {
			t.Errorf("equity[%d] differs: %s vs %s", i, agg.Series.Equity[i].Equity, single.Series.Equity[i].Equity)
		}
	}
}

func TestGetAggregateSeries_ExchangesParam(t *testing.T) {
	_, router := newTestEnv(t, nil)
	seed(t, router, binanceTrades)

	report := decodeReport(t, do(t, router, http.MethodGet, "/api/v1/series/aggregate?exchanges=okx,bybit,okx", ""))
	if len(report.Exchanges) != 2 || report.Exchanges[0] != "okx" || report.Exchanges[1] != "bybit" {
		t.Errorf("expected [okx bybit], got %v", report.Exchanges)
	}
	if report.Series.Len() != 0 {
		t.Errorf("expected no points, got %d", report.Series.Len())
	}

	w := do(t, router, http.MethodGet, "/api/v1/series/aggregate?exchanges=okx,aggregate", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for reserved name, got %d", w.Code)
	}
}

// --- CSV export ---

func TestExportCSV(t *testing.T) {
	_, router := newTestEnv(t, nil)
	seed(t, router, binanceTrades)

	w := do(t, router, http.MethodGet, "/api/v1/series/export.csv?exchange=binance&kind=win_rate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %q", ct)
	}
	want := "date,win_rate\n" +
		"2024-01-01T00:00:00Z,0.00\n" +
		"2024-01-02T00:00:00Z,50.00\n" +
		"2024-01-03T00:00:00Z,66.67\n"
	if w.Body.String() != want {
		t.Errorf("unexpected csv:\n%s", w.Body.String())
	}
}

func TestExportCSV_Aggregate(t *testing.T) {
	_, router := newTestEnv(t, nil)
	seed(t, router, binanceTrades)

	w := do(t, router, http.MethodGet, "/api/v1/series/export.csv?exchange=aggregate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "date,equity\n") {
		t.Errorf("expected equity header, got %q", w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "aggregate-equity.csv") {
		t.Errorf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}
}

func TestExportCSV_UnknownKind(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, http.MethodGet, "/api/v1/series/export.csv?exchange=binance&kind=sharpe", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// --- Summary ---

func TestGetSummary_AllExchanges(t *testing.T) {
	_, router := newTestEnv(t, map[string]error{"okx": errors.New("down")})
	seed(t, router, binanceTrades)

	w := do(t, router, http.MethodGet, "/api/v1/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp overview.SummaryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if len(resp.Exchanges) != 2 {
		t.Fatalf("expected 2 exchange summaries, got %d", len(resp.Exchanges))
	}
	b := resp.Exchanges[0]
	if b.Exchange != "binance" || b.ClosedTrades != 3 || b.Wins != 2 || b.Losses != 1 {
		t.Errorf("unexpected binance summary %+v", b)
	}
	if !b.RealizedPnL.Equal(d(12)) || !b.MaxDrawdown.Equal(d(4)) {
		t.Errorf("expected pnl 12 and drawdown 4, got %s / %s", b.RealizedPnL, b.MaxDrawdown)
	}
	if resp.Aggregate == nil || !resp.Aggregate.RealizedPnL.Equal(d(12)) {
		t.Errorf("expected aggregate pnl 12, got %+v", resp.Aggregate)
	}
	if len(resp.Failed) != 1 || resp.Failed[0].Exchange != "okx" {
		t.Errorf("expected okx failure, got %v", resp.Failed)
	}
}

func TestGetSummary_SingleExchange(t *testing.T) {
	_, router := newTestEnv(t, nil)
	seed(t, router, binanceTrades)

	var resp overview.SummaryResponse
	w := do(t, router, http.MethodGet, "/api/v1/summary?exchange=binance", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Exchanges) != 1 || resp.Aggregate != nil {
		t.Fatalf("expected a single summary without aggregate, got %+v", resp)
	}
	if !resp.Exchanges[0].WinRate.Round(2).Equal(d(66.67)) {
		t.Errorf("expected win rate 66.67, got %s", resp.Exchanges[0].WinRate)
	}
}

// --- Ingestion ---

func TestIngestPositions_AssignsIDsAndNormalises(t *testing.T) {
	ms, router := newTestEnv(t, nil)

	w := do(t, router, http.MethodPost, "/api/v1/positions",
		`[{"exchange":" BYBIT ","status":"Closed","realized_pnl":"1.5","updated_at":"2024-02-01"}]`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp overview.IngestResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Ingested != 1 || len(resp.IDs) != 1 || resp.IDs[0] == "" {
		t.Fatalf("expected one generated id, got %+v", resp)
	}

	got, err := ms.ListPositions(context.Background(), "bybit")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Status != model.StatusClosed || got[0].ID != resp.IDs[0] {
		t.Errorf("unexpected stored record %+v", got)
	}
}

func TestIngestPositions_ExtremeExponentReadsAsMissing(t *testing.T) {
	_, router := newTestEnv(t, nil)
	seed(t, router, `[
		{"id":"x1","exchange":"okx","status":"closed","realized_pnl":"1e-50000000","updated_at":"2024-01-01"},
		{"id":"x2","exchange":"okx","status":"closed","realized_pnl":1,"updated_at":"2024-01-02"}
	]`)

	report := decodeReport(t, do(t, router, http.MethodGet, "/api/v1/series?exchange=okx", ""))
	if report.Series.Len() != 2 {
		t.Fatalf("expected 2 points, got %d", report.Series.Len())
	}
	if !report.Series.Equity[0].Equity.IsZero() || !report.Series.Equity[1].Equity.Equal(d(1)) {
		t.Errorf("expected equity [0 1], got [%s %s]",
			report.Series.Equity[0].Equity, report.Series.Equity[1].Equity)
	}
	if !report.Series.WinRate[1].WinRate.Equal(d(50)) {
		t.Errorf("expected win rate 50, got %s", report.Series.WinRate[1].WinRate)
	}

	w := do(t, router, http.MethodGet, "/api/v1/positions?exchange=okx", "")
	if !strings.Contains(w.Body.String(), `"realized_pnl":null`) {
		t.Errorf("out-of-range amount should be stored as null, got %s", w.Body.String())
	}
}

func TestIngestPositions_Upsert(t *testing.T) {
	ms, router := newTestEnv(t, nil)
	seed(t, router, `[{"id":"p1","exchange":"okx","status":"open","updated_at":"2024-01-01"}]`)
	seed(t, router, `[{"id":"p1","exchange":"okx","status":"closed","realized_pnl":3,"updated_at":"2024-01-02"}]`)

	got, _ := ms.ListPositions(context.Background(), "okx")
	if len(got) != 1 || !got[0].Closed() {
		t.Fatalf("expected one closed record after upsert, got %+v", got)
	}
}

func TestIngestPositions_Validation(t *testing.T) {
	_, router := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"object instead of array", `{"exchange":"okx"}`},
		{"empty array", `[]`},
		{"bad exchange", `[{"exchange":"not valid","status":"closed"}]`},
		{"reserved exchange", `[{"exchange":"aggregate","status":"closed"}]`},
		{"unknown status", `[{"exchange":"okx","status":"pending"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/api/v1/positions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestIngestPositions_RemoteModeConflict(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := overview.NewService(ms, nil, collector.New(ms, 0, 0), []string{"okx"})
	router := routes(svc)

	w := do(t, router, http.MethodPost, "/api/v1/positions", `[{"exchange":"okx","status":"closed"}]`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

// --- Positions / exchanges / health ---

func TestListPositions(t *testing.T) {
	_, router := newTestEnv(t, nil)
	seed(t, router, binanceTrades)

	w := do(t, router, http.MethodGet, "/api/v1/positions?exchange=binance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []model.PositionRecord
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected all 4 raw records, got %d", len(got))
	}
	if got[1].RealizedPnL.Valid {
		t.Error("null realized_pnl should stay invalid")
	}
}

func TestListExchanges(t *testing.T) {
	_, router := newTestEnv(t, nil)
	seed(t, router, `[{"exchange":"kraken","status":"closed","realized_pnl":1,"updated_at":"2024-01-01"}]`)

	var resp overview.ExchangesResponse
	w := do(t, router, http.MethodGet, "/api/v1/exchanges", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	want := []string{"binance", "okx", "kraken"}
	if strings.Join(resp.All, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, resp.All)
	}
	if len(resp.Stored) != 1 || resp.Stored[0] != "kraken" {
		t.Errorf("expected stored [kraken], got %v", resp.Stored)
	}
}

func TestHealth(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("expected ok health, got %d: %s", w.Code, w.Body.String())
	}
}
