package pricesource

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout = 30 * time.Second

	// Reconnection constants
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute

	// Streamed quotes older than this are ignored in favor of REST.
	staleThreshold = 30 * time.Second
)

// tick is one streamed ticker message.
type tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// streamedPrice is a cached quote with its arrival time.
type streamedPrice struct {
	price      float64
	receivedAt time.Time
}

// Stream maintains a websocket subscription to the price source ticker
// feed and caches the latest quote per symbol. It reconnects with
// exponential backoff and never fails the caller: a missing or stale
// quote simply falls back to REST.
type Stream struct {
	url string
	log zerolog.Logger

	mu     sync.RWMutex
	prices map[string]streamedPrice

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream creates a ticker stream for the given websocket URL.
func NewStream(url string, log zerolog.Logger) *Stream {
	return &Stream{
		url:    url,
		log:    log.With().Str("client", "pricesource_stream").Logger(),
		prices: make(map[string]streamedPrice),
	}
}

// Start launches the stream loop in the background.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop terminates the stream loop and waits for it to exit.
func (s *Stream) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// LastPrice returns the latest streamed quote for a symbol, if fresh.
func (s *Stream) LastPrice(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.prices[symbol]
	if !ok || time.Since(entry.receivedAt) > staleThreshold {
		return 0, false
	}
	return entry.price, true
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			delay := reconnectDelay(attempt)
			attempt++
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("Ticker stream disconnected")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
	}
}

// consume dials the feed and reads ticks until the connection drops.
func (s *Stream) consume(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	s.log.Info().Str("url", s.url).Msg("Ticker stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var t tick
		if err := json.Unmarshal(data, &t); err != nil {
			s.log.Debug().Err(err).Msg("Skipping malformed tick")
			continue
		}
		if t.Symbol == "" || t.Price <= 0 {
			continue
		}

		s.mu.Lock()
		s.prices[t.Symbol] = streamedPrice{price: t.Price, receivedAt: time.Now()}
		s.mu.Unlock()
	}
}

func reconnectDelay(attempt int) time.Duration {
	delay := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(attempt)))
	if delay > maxReconnectDelay {
		return maxReconnectDelay
	}
	return delay
}
