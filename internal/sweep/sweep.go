// Package sweep periodically re-injects stuck jobs into the stage each one
// failed at. It only reads the ledger and publishes; all row mutation
// happens in the stage executor's recovery path.
package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/repository"
)

// Publisher is the broker surface the sweep needs.
type Publisher interface {
	Publish(ctx context.Context, stream string, body []byte) error
}

// Sweep drives deferred recovery. One active instance is assumed; the
// interval should exceed the worst-case latency of a single stage so a
// replay rarely overlaps the live message it is recovering.
type Sweep struct {
	ledger   repository.RetryJobRepository
	bus      Publisher
	interval time.Duration
	logger   *slog.Logger
}

func New(ledger repository.RetryJobRepository, bus Publisher, interval time.Duration, logger *slog.Logger) *Sweep {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweep{ledger: ledger, bus: bus, interval: interval, logger: logger}
}

// Run blocks, sweeping at the configured interval until ctx is cancelled.
func (s *Sweep) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("recovery sweep started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sweep run failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep: partition unresolved rows by step and
// publish one batch message per non-empty partition.
func (s *Sweep) RunOnce(ctx context.Context) error {
	jobs, err := s.ledger.ListUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("list unresolved: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	byStep := make(map[int][]int64)
	for _, job := range jobs {
		byStep[job.Step] = append(byStep[job.Step], job.ID)
	}

	steps := make([]int, 0, len(byStep))
	for step := range byStep {
		steps = append(steps, step)
	}
	sort.Ints(steps)

	for _, step := range steps {
		ids := byStep[step]
		stream, err := pipeline.StreamForStep(step)
		if err != nil {
			// A row with an unknown step cannot be replayed anywhere; it
			// stays in the ledger for the audit trail.
			s.logger.Error("unroutable retry rows", "step", step, "count", len(ids))
			continue
		}
		body, err := json.Marshal(envelope.Batch{JobIDs: ids})
		if err != nil {
			return fmt.Errorf("encode batch for step %d: %w", step, err)
		}
		if err := s.bus.Publish(ctx, stream, body); err != nil {
			return fmt.Errorf("publish batch for step %d: %w", step, err)
		}
		s.logger.Info("recovery batch published", "step", step, "stream", stream, "jobs", len(ids))
	}
	return nil
}
