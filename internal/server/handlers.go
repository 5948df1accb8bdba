package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/domain"
)

// maxBatchSymbols caps a single batch request.
const maxBatchSymbols = 100

// AssessmentService produces risk assessments.
type AssessmentService interface {
	Assess(ctx context.Context, symbol string, price *float64) (*domain.Assessment, error)
	BatchAssess(ctx context.Context, symbols []string) []domain.BatchResult
}

// BoundsUpdater applies manual symbol calibration changes: price bounds
// overrides and logarithmic fallback refits.
type BoundsUpdater interface {
	UpdateBounds(ctx context.Context, symbol string, minPrice, maxPrice *float64, reason, actor string) error
	SetLogConstants(ctx context.Context, symbol string, floorPrice, peakPrice float64) error
}

// RecalcTrigger rebuilds a symbol's models on demand, either from
// persisted inputs or from a fresh calibration fetch.
type RecalcTrigger interface {
	Recalculate(ctx context.Context, symbol string) error
	IngestCalibration(ctx context.Context, symbol string) error
}

// SymbolDirectory lists the tracked symbols.
type SymbolDirectory interface {
	GetAllActive() ([]domain.Symbol, error)
}

// TimeSpentSource returns the persisted time-spent band profile.
type TimeSpentSource interface {
	GetForSymbol(symbol string) ([]domain.TimeSpentBand, error)
}

// OverrideSource returns the bounds override audit trail.
type OverrideSource interface {
	GetForSymbol(symbol string) ([]domain.ManualOverride, error)
}

// EngineHandlers serves the risk engine API: assessments, symbol data,
// bounds overrides, and manual recalculation.
type EngineHandlers struct {
	assessments AssessmentService
	bounds      BoundsUpdater
	recalc      RecalcTrigger
	symbols     SymbolDirectory
	timeSpent   TimeSpentSource
	overrides   OverrideSource
	log         zerolog.Logger
}

// NewEngineHandlers creates the engine API handlers.
func NewEngineHandlers(
	assessments AssessmentService,
	bounds BoundsUpdater,
	recalc RecalcTrigger,
	symbols SymbolDirectory,
	timeSpent TimeSpentSource,
	overrides OverrideSource,
	log zerolog.Logger,
) *EngineHandlers {
	return &EngineHandlers{
		assessments: assessments,
		bounds:      bounds,
		recalc:      recalc,
		symbols:     symbols,
		timeSpent:   timeSpent,
		overrides:   overrides,
		log:         log.With().Str("handlers", "engine").Logger(),
	}
}

// getAssessment handles GET /api/assessments/{symbol}?price=N.
// Without a price parameter the current price is fetched from the price
// source.
func (h *EngineHandlers) getAssessment(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var price *float64
	if raw := r.URL.Query().Get("price"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p <= 0 {
			h.writeError(w, http.StatusBadRequest, "price must be a positive number")
			return
		}
		price = &p
	}

	result, err := h.assessments.Assess(r.Context(), symbol, price)
	if err != nil {
		h.writeDomainError(w, symbol, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Symbols []string `json:"symbols"`
}

type batchResponse struct {
	Results []domain.BatchResult `json:"results"`
}

// postBatchAssessment handles POST /api/assessments/batch.
func (h *EngineHandlers) postBatchAssessment(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Symbols) == 0 {
		h.writeError(w, http.StatusBadRequest, "symbols must be a non-empty array")
		return
	}
	if len(req.Symbols) > maxBatchSymbols {
		h.writeError(w, http.StatusBadRequest, "too many symbols in one batch")
		return
	}

	results := h.assessments.BatchAssess(r.Context(), req.Symbols)
	h.writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

// listSymbols handles GET /api/symbols.
func (h *EngineHandlers) listSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.symbols.GetAllActive()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list symbols")
		h.writeError(w, http.StatusInternalServerError, "failed to list symbols")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": symbols})
}

// getTimeSpent handles GET /api/symbols/{symbol}/time-spent.
func (h *EngineHandlers) getTimeSpent(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	bands, err := h.timeSpent.GetForSymbol(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load time-spent bands")
		h.writeError(w, http.StatusInternalServerError, "failed to load time-spent bands")
		return
	}
	if len(bands) == 0 {
		h.writeError(w, http.StatusNotFound, "no time-spent profile for "+symbol)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "bands": bands})
}

// getOverrides handles GET /api/symbols/{symbol}/overrides. The audit
// trail is append-only, so this is the full history of bounds changes.
func (h *EngineHandlers) getOverrides(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	overrides, err := h.overrides.GetForSymbol(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load overrides")
		h.writeError(w, http.StatusInternalServerError, "failed to load overrides")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "overrides": overrides})
}

type boundsRequest struct {
	MinPrice *float64 `json:"min_price"`
	MaxPrice *float64 `json:"max_price"`
	Reason   string   `json:"reason"`
	Actor    string   `json:"actor"`
}

// postBounds handles POST /api/symbols/{symbol}/bounds. A successful
// override also triggers a recalculation before responding.
func (h *EngineHandlers) postBounds(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var req boundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MinPrice == nil && req.MaxPrice == nil {
		h.writeError(w, http.StatusBadRequest, "at least one of min_price or max_price is required")
		return
	}
	if req.Reason == "" {
		h.writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	if err := h.bounds.UpdateBounds(r.Context(), symbol, req.MinPrice, req.MaxPrice, req.Reason, req.Actor); err != nil {
		h.writeDomainError(w, symbol, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type logConstantsRequest struct {
	FloorPrice float64 `json:"floor_price"`
	PeakPrice  float64 `json:"peak_price"`
}

// postLogConstants handles POST /api/symbols/{symbol}/log-constants,
// refitting the logarithmic fallback from two reference prices.
func (h *EngineHandlers) postLogConstants(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var req logConstantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FloorPrice <= 0 || req.PeakPrice <= req.FloorPrice {
		h.writeError(w, http.StatusBadRequest, "peak_price must exceed floor_price and both must be positive")
		return
	}

	if err := h.bounds.SetLogConstants(r.Context(), symbol, req.FloorPrice, req.PeakPrice); err != nil {
		h.writeDomainError(w, symbol, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// postRecalculate handles POST /api/symbols/{symbol}/recalculate. The
// recalculation runs in the background; 202 only acknowledges the
// trigger.
func (h *EngineHandlers) postRecalculate(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := h.recalc.Recalculate(ctx, symbol); err != nil {
			h.log.Error().Err(err).Str("symbol", symbol).Msg("Manual recalculation failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recalculation started", "symbol": symbol})
}

// postCalibration handles POST /api/symbols/{symbol}/calibration:
// replace the symbol's matrix from the calibration authority, then
// recalculate. Runs synchronously so the caller learns about a rejected
// feed.
func (h *EngineHandlers) postCalibration(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	if err := h.recalc.IngestCalibration(r.Context(), symbol); err != nil {
		h.writeDomainError(w, symbol, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "calibration ingested", "symbol": symbol})
}

// writeDomainError maps typed domain errors to HTTP status codes.
func (h *EngineHandlers) writeDomainError(w http.ResponseWriter, symbol string, err error) {
	switch {
	case domain.IsConfiguration(err):
		h.writeError(w, http.StatusNotFound, err.Error())
	case domain.IsPriceUnavailable(err):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case domain.IsCalibrationMismatch(err):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *EngineHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *EngineHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
