package assessment

import (
	"context"
	"sync"

	"github.com/aristath/riskline/internal/domain"
)

// defaultBatchWorkers caps batch concurrency when no explicit limit is
// configured.
const defaultBatchWorkers = 16

type batchJob struct {
	index  int
	symbol string
}

// BatchAssess assesses many symbols concurrently with a bounded worker
// pool. Per-symbol failures are recorded in the result instead of
// aborting the batch. Cancellation stops dispatching new work; items
// already picked up run to completion.
func (s *Service) BatchAssess(ctx context.Context, symbols []string) []domain.BatchResult {
	results := make([]domain.BatchResult, len(symbols))
	if len(symbols) == 0 {
		return results
	}

	workers := s.batchWorkers
	if workers > len(symbols) {
		workers = len(symbols)
	}

	jobs := make(chan batchJob)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results[job.index] = s.assessOne(ctx, job.symbol)
			}
		}()
	}

dispatch:
	for i, symbol := range symbols {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- batchJob{index: i, symbol: symbol}:
		}
	}
	close(jobs)
	wg.Wait()

	// Symbols never dispatched because of cancellation still get a marker.
	for i := range results {
		if results[i].Symbol == "" {
			results[i] = domain.BatchResult{Symbol: symbols[i], Error: context.Canceled.Error()}
		}
	}

	return results
}

func (s *Service) assessOne(ctx context.Context, symbol string) domain.BatchResult {
	result, err := s.Assess(ctx, symbol, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("symbol", symbol).Msg("Batch assessment failed for symbol")
		return domain.BatchResult{Symbol: symbol, Error: err.Error()}
	}
	return domain.BatchResult{Symbol: result.Symbol, Assessment: result}
}
