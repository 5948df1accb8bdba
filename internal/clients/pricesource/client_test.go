package pricesource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskline/internal/domain"
)

func TestGetCurrentPrice_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTC","price":87500.0}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, zerolog.Nop())
	price, err := client.GetCurrentPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 87500.0, price)
}

func TestGetCurrentPrice_RetriesOnceThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"symbol":"BTC","price":90000.0}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, zerolog.Nop())
	price, err := client.GetCurrentPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 90000.0, price)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetCurrentPrice_SurfacesPriceUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, zerolog.Nop())
	_, err := client.GetCurrentPrice(context.Background(), "BTC")
	require.Error(t, err)
	assert.True(t, domain.IsPriceUnavailable(err))

	// Exactly one retry: two calls total
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetCurrentPrice_RejectsNonPositivePrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTC","price":0}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, zerolog.Nop())
	_, err := client.GetCurrentPrice(context.Background(), "BTC")
	require.Error(t, err)
	assert.True(t, domain.IsPriceUnavailable(err))
}

func TestGetCurrentPrice_PrefersFreshStreamQuote(t *testing.T) {
	var restCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		restCalls.Add(1)
		w.Write([]byte(`{"symbol":"BTC","price":85000.0}`))
	}))
	defer server.Close()

	stream := NewStream("ws://unused", zerolog.Nop())
	stream.mu.Lock()
	stream.prices["BTC"] = streamedPrice{price: 87000, receivedAt: time.Now()}
	stream.mu.Unlock()

	client := NewClient(server.URL, time.Second, stream, zerolog.Nop())
	price, err := client.GetCurrentPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 87000.0, price)
	assert.Equal(t, int32(0), restCalls.Load())
}

func TestStream_LastPriceStaleness(t *testing.T) {
	stream := NewStream("ws://unused", zerolog.Nop())

	_, ok := stream.LastPrice("BTC")
	assert.False(t, ok)

	stream.mu.Lock()
	stream.prices["BTC"] = streamedPrice{price: 87000, receivedAt: time.Now().Add(-time.Minute)}
	stream.mu.Unlock()

	_, ok = stream.LastPrice("BTC")
	assert.False(t, ok, "stale quotes must not be served")
}

func TestReconnectDelay_Backoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, reconnectDelay(0))
	assert.Equal(t, 10*time.Second, reconnectDelay(1))
	assert.Equal(t, 20*time.Second, reconnectDelay(2))
	assert.Equal(t, 5*time.Minute, reconnectDelay(20))
}
