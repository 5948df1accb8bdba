package di

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskline/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:            t.TempDir(),
		Port:               8010,
		PriceSourceURL:     "http://localhost:9010",
		PriceSourceTimeout: time.Second,
		AssessmentCacheTTL: time.Minute,
		BatchWorkers:       4,
	}
}

func TestNew_WiresFullGraph(t *testing.T) {
	c, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.UniverseDB)
	assert.NotNil(t, c.LedgerDB)
	assert.NotNil(t, c.HistoryDB)
	assert.NotNil(t, c.CacheDB)

	assert.NotNil(t, c.SymbolRepo)
	assert.NotNil(t, c.MatrixRepo)
	assert.NotNil(t, c.RegressionRepo)
	assert.NotNil(t, c.BandsRepo)
	assert.NotNil(t, c.HistoryRepo)
	assert.NotNil(t, c.Cache)

	assert.NotNil(t, c.PriceClient)
	assert.Nil(t, c.PriceStream, "no websocket URL configured")

	assert.NotNil(t, c.SnapshotStore)
	assert.NotNil(t, c.Recalc)
	assert.NotNil(t, c.Assessments)
	assert.NotNil(t, c.Bounds)
	assert.NotNil(t, c.Recorder)
	assert.NotNil(t, c.Scheduler)

	assert.Nil(t, c.Backup, "no bucket configured")
}

func TestNew_MigratesSchemas(t *testing.T) {
	c, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	// A migrated universe database answers queries against its tables.
	symbols, err := c.SymbolRepo.GetAllActive()
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestNew_EnablesStreamWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.PriceSourceWSURL = "ws://localhost:9010/stream"

	c, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.PriceStream)
}
