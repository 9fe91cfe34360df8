package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/repository"
)

type stubLedger struct {
	unresolved []repository.RetryJob
	err        error
}

func (s *stubLedger) RecordFailure(context.Context, *envelope.Envelope, int, error) error {
	return nil
}
func (s *stubLedger) Resolve(context.Context, string) error { return nil }
func (s *stubLedger) ListUnresolved(context.Context) ([]repository.RetryJob, error) {
	return s.unresolved, s.err
}
func (s *stubLedger) GetForStep(context.Context, []int64, int) ([]repository.RetryJob, error) {
	return nil, nil
}
func (s *stubLedger) ListAll(context.Context) ([]repository.RetryJob, error) {
	return s.unresolved, nil
}

type recordingPublisher struct {
	byStream map[string][][]byte
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{byStream: map[string][][]byte{}}
}

func (p *recordingPublisher) Publish(_ context.Context, stream string, body []byte) error {
	p.byStream[stream] = append(p.byStream[stream], body)
	return nil
}

func stuckJob(id int64, step int) repository.RetryJob {
	return repository.RetryJob{ID: id, JobID: uuid.New(), Step: step}
}

func TestRunOncePartitionsByStep(t *testing.T) {
	t.Parallel()
	ledger := &stubLedger{unresolved: []repository.RetryJob{
		stuckJob(1, pipeline.StepExtract),
		stuckJob(2, pipeline.StepTranslate),
		stuckJob(3, pipeline.StepExtract),
		stuckJob(4, pipeline.StepRender),
	}}
	bus := newRecordingPublisher()
	s := New(ledger, bus, time.Minute, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(bus.byStream) != 3 {
		t.Fatalf("expected 3 streams, got %v", bus.byStream)
	}

	want := map[string][]int64{
		pipeline.StreamIngestToExtract:    {1, 3},
		pipeline.StreamExtractToTranslate: {2},
		pipeline.StreamTranslateToRender:  {4},
	}
	for stream, ids := range want {
		bodies := bus.byStream[stream]
		if len(bodies) != 1 {
			t.Fatalf("expected one batch on %s, got %d", stream, len(bodies))
		}
		var b envelope.Batch
		if err := json.Unmarshal(bodies[0], &b); err != nil {
			t.Fatalf("batch on %s is not valid JSON: %v", stream, err)
		}
		sort.Slice(b.JobIDs, func(i, j int) bool { return b.JobIDs[i] < b.JobIDs[j] })
		if len(b.JobIDs) != len(ids) {
			t.Fatalf("batch on %s has %d ids, want %d", stream, len(b.JobIDs), len(ids))
		}
		for i := range ids {
			if b.JobIDs[i] != ids[i] {
				t.Fatalf("batch on %s carries ids %v, want %v", stream, b.JobIDs, ids)
			}
		}
	}
}

func TestRunOnceEmptyLedgerPublishesNothing(t *testing.T) {
	t.Parallel()
	bus := newRecordingPublisher()
	s := New(&stubLedger{}, bus, time.Minute, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(bus.byStream) != 0 {
		t.Fatalf("expected no publishes, got %v", bus.byStream)
	}
}

func TestRunOnceSkipsUnroutableSteps(t *testing.T) {
	t.Parallel()
	ledger := &stubLedger{unresolved: []repository.RetryJob{
		stuckJob(1, 9),
		stuckJob(2, pipeline.StepRender),
	}}
	bus := newRecordingPublisher()
	s := New(ledger, bus, time.Minute, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(bus.byStream) != 1 {
		t.Fatalf("only the routable step should publish, got %v", bus.byStream)
	}
	if len(bus.byStream[pipeline.StreamTranslateToRender]) != 1 {
		t.Fatalf("step-3 batch missing: %v", bus.byStream)
	}
}

func TestRunOnceSurfacesLedgerError(t *testing.T) {
	t.Parallel()
	s := New(&stubLedger{err: errors.New("connection refused")}, newRecordingPublisher(), time.Minute, nil)
	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected ledger error to surface")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(&stubLedger{}, newRecordingPublisher(), time.Millisecond, nil)
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
