package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskline/internal/domain"
)

type fakeAssessor struct {
	assessments map[string]*domain.Assessment
	lastPrice   *float64
}

func (f *fakeAssessor) Assess(_ context.Context, symbol string, price *float64) (*domain.Assessment, error) {
	f.lastPrice = price
	if a, ok := f.assessments[symbol]; ok {
		return a, nil
	}
	return nil, domain.ErrConfiguration{Symbol: symbol, Detail: "symbol not found"}
}

func (f *fakeAssessor) BatchAssess(ctx context.Context, symbols []string) []domain.BatchResult {
	results := make([]domain.BatchResult, len(symbols))
	for i, symbol := range symbols {
		a, err := f.Assess(ctx, symbol, nil)
		if err != nil {
			results[i] = domain.BatchResult{Symbol: symbol, Error: err.Error()}
			continue
		}
		results[i] = domain.BatchResult{Symbol: symbol, Assessment: a}
	}
	return results
}

type fakeBounds struct {
	calls    int
	logCalls int
	err      error
}

func (f *fakeBounds) UpdateBounds(_ context.Context, _ string, _, _ *float64, _, _ string) error {
	f.calls++
	return f.err
}

func (f *fakeBounds) SetLogConstants(_ context.Context, _ string, _, _ float64) error {
	f.logCalls++
	return f.err
}

type fakeRecalc struct {
	done        chan string
	ingested    []string
	ingestError error
}

func (f *fakeRecalc) Recalculate(_ context.Context, symbol string) error {
	f.done <- symbol
	return nil
}

func (f *fakeRecalc) IngestCalibration(_ context.Context, symbol string) error {
	f.ingested = append(f.ingested, symbol)
	return f.ingestError
}

type fakeDirectory struct {
	symbols []domain.Symbol
}

func (f *fakeDirectory) GetAllActive() ([]domain.Symbol, error) { return f.symbols, nil }

type fakeTimeSpent struct {
	bands map[string][]domain.TimeSpentBand
}

func (f *fakeTimeSpent) GetForSymbol(symbol string) ([]domain.TimeSpentBand, error) {
	return f.bands[symbol], nil
}

type fakeOverrides struct {
	overrides []domain.ManualOverride
}

func (f *fakeOverrides) GetForSymbol(string) ([]domain.ManualOverride, error) {
	return f.overrides, nil
}

type testServer struct {
	srv      *Server
	assessor *fakeAssessor
	bounds   *fakeBounds
	recalc   *fakeRecalc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	assessor := &fakeAssessor{
		assessments: map[string]*domain.Assessment{
			"BTC": {
				Symbol:     "BTC",
				Price:      87500,
				RiskValue:  0.53,
				Band:       5,
				Zone:       domain.ZoneNeutral,
				FinalScore: 48,
				Signal:     domain.SignalWait,
				Confidence: 0.9,
				Resolution: domain.ResolutionMatrix,
			},
		},
	}
	bounds := &fakeBounds{}
	recalc := &fakeRecalc{done: make(chan string, 1)}

	srv := New(Config{
		Log:         zerolog.Nop(),
		Port:        0,
		DataDir:     t.TempDir(),
		Assessments: assessor,
		Bounds:      bounds,
		Recalc:      recalc,
		Symbols:     &fakeDirectory{symbols: []domain.Symbol{{Symbol: "BTC", Active: true}}},
		TimeSpent: &fakeTimeSpent{bands: map[string][]domain.TimeSpentBand{
			"BTC": {{Symbol: "BTC", BandLow: 0, BandHigh: 0.1, PercentageOfLife: 0.1}},
		}},
		Overrides: &fakeOverrides{},
	})

	return &testServer{srv: srv, assessor: assessor, bounds: bounds, recalc: recalc}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestGetAssessment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/assessments/BTC", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "BTC", result.Symbol)
	assert.Equal(t, domain.SignalWait, result.Signal)
	assert.Nil(t, ts.assessor.lastPrice)
}

func TestGetAssessment_PriceParam(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/assessments/BTC?price=91000.50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ts.assessor.lastPrice)
	assert.Equal(t, 91000.50, *ts.assessor.lastPrice)
}

func TestGetAssessment_InvalidPrice(t *testing.T) {
	ts := newTestServer(t)

	for _, price := range []string{"abc", "-5", "0"} {
		rec := ts.do(t, http.MethodGet, "/api/assessments/BTC?price="+price, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "price=%s", price)
	}
}

func TestGetAssessment_UnknownSymbolIs404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/assessments/DOGE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchAssessment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/assessments/batch", batchRequest{Symbols: []string{"BTC", "DOGE"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.NotNil(t, resp.Results[0].Assessment)
	assert.Empty(t, resp.Results[0].Error)
	assert.Nil(t, resp.Results[1].Assessment)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestBatchAssessment_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/assessments/batch", batchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/assessments/batch", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	symbols := make([]string, maxBatchSymbols+1)
	for i := range symbols {
		symbols[i] = "BTC"
	}
	rec = ts.do(t, http.MethodPost, "/api/assessments/batch", batchRequest{Symbols: symbols})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSymbols(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/symbols/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BTC")
}

func TestGetTimeSpent(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/symbols/BTC/time-spent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "percentage_of_life")

	rec = ts.do(t, http.MethodGet, "/api/symbols/DOGE/time-spent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostBounds(t *testing.T) {
	ts := newTestServer(t)
	min := 12000.0

	rec := ts.do(t, http.MethodPost, "/api/symbols/BTC/bounds", boundsRequest{
		MinPrice: &min,
		Reason:   "post-halving floor shift",
		Actor:    "ops",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, ts.bounds.calls)
}

func TestPostBounds_Validation(t *testing.T) {
	ts := newTestServer(t)
	min := 12000.0

	rec := ts.do(t, http.MethodPost, "/api/symbols/BTC/bounds", boundsRequest{Reason: "no bounds"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/symbols/BTC/bounds", boundsRequest{MinPrice: &min})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 0, ts.bounds.calls)
}

func TestPostBounds_UnknownSymbolIs404(t *testing.T) {
	ts := newTestServer(t)
	min := 12000.0
	ts.bounds.err = domain.ErrConfiguration{Symbol: "DOGE", Detail: "symbol not found"}

	rec := ts.do(t, http.MethodPost, "/api/symbols/DOGE/bounds", boundsRequest{MinPrice: &min, Reason: "r"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostLogConstants(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/symbols/BTC/log-constants", logConstantsRequest{
		FloorPrice: 3200,
		PeakPrice:  69000,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, ts.bounds.logCalls)
}

func TestPostLogConstants_Validation(t *testing.T) {
	ts := newTestServer(t)

	for _, req := range []logConstantsRequest{
		{FloorPrice: 0, PeakPrice: 69000},
		{FloorPrice: 69000, PeakPrice: 3200},
		{FloorPrice: 3200, PeakPrice: 3200},
	} {
		rec := ts.do(t, http.MethodPost, "/api/symbols/BTC/log-constants", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.Equal(t, 0, ts.bounds.logCalls)
}

func TestPostRecalculate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/symbols/BTC/recalculate", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case symbol := <-ts.recalc.done:
		assert.Equal(t, "BTC", symbol)
	case <-time.After(time.Second):
		t.Fatal("recalculation was never triggered")
	}
}

func TestPostCalibration(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/symbols/BTC/calibration", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BTC"}, ts.recalc.ingested)
}

func TestPostCalibration_MismatchIs422(t *testing.T) {
	ts := newTestServer(t)
	ts.recalc.ingestError = domain.ErrCalibrationMismatch{Symbol: "BTC", Detail: "prices not strictly increasing"}

	rec := ts.do(t, http.MethodPost, "/api/symbols/BTC/calibration", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealth_WithoutDatabases(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGetOverrides(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/symbols/BTC/overrides", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"overrides"`)
}
