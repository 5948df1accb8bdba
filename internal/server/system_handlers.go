package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/riskline/internal/database"
)

// SystemHandlers serves health and system statistics endpoints.
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	databases map[string]*database.DB
	startedAt time.Time
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(log zerolog.Logger, dataDir string, databases map[string]*database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handlers", "system").Logger(),
		dataDir:   dataDir,
		databases: databases,
		startedAt: time.Now(),
	}
}

// getHealth handles GET /api/health. Pings every database; any failure
// degrades the status and flips the HTTP code to 503.
func (h *SystemHandlers) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "ok"
	checks := make(map[string]string, len(h.databases))
	for name, db := range h.databases {
		if db == nil {
			checks[name] = "not configured"
			continue
		}
		if err := db.QuickCheck(ctx); err != nil {
			h.log.Error().Err(err).Str("database", name).Msg("Health check failed")
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"databases":      checks,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// getSystemStats handles GET /api/system/stats: CPU, memory, goroutines,
// and per-database file sizes.
func (h *SystemHandlers) getSystemStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		total := 0.0
		for _, p := range percentages {
			total += p
		}
		stats["cpu_percent"] = total / float64(len(percentages))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory_percent"] = vm.UsedPercent
		stats["memory_used_bytes"] = vm.Used
	}

	databases := make(map[string]interface{}, len(h.databases))
	for name, db := range h.databases {
		if db == nil {
			continue
		}
		dbStats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to collect database stats")
			continue
		}
		databases[name] = map[string]interface{}{
			"size_bytes":     dbStats.SizeBytes,
			"wal_size_bytes": dbStats.WALSizeBytes,
			"page_count":     dbStats.PageCount,
		}
	}
	stats["databases"] = databases

	h.writeJSON(w, http.StatusOK, stats)
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
