package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/repository"
)

// Outcome is the total result classification of one stage transformation.
type Outcome int

const (
	OutcomeAdvance Outcome = iota + 1
	OutcomeTerminal
	OutcomeFailure
)

// Result is what a stage handler returns: advance with the next envelope,
// terminate with the final artifact locator, or fail with the cause.
type Result struct {
	Outcome  Outcome
	Next     *envelope.Envelope
	Artifact string
	Err      error
}

func Advance(next *envelope.Envelope) Result {
	return Result{Outcome: OutcomeAdvance, Next: next}
}

func Terminal(artifact string) Result {
	return Result{Outcome: OutcomeTerminal, Artifact: artifact}
}

func Fail(err error) Result {
	return Result{Outcome: OutcomeFailure, Err: err}
}

// Handler is one stage's transformation. CacheKey names the fingerprint the
// executor checks before invoking Handle; empty string skips the check.
type Handler interface {
	Step() int
	CacheKey(env *envelope.Envelope) string
	Handle(ctx context.Context, env *envelope.Envelope) Result
}

// Lookup is the cache surface the executor needs.
type Lookup interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, locator string) error
}

// Bus is the broker surface the executor needs.
type Bus interface {
	Publish(ctx context.Context, stream string, body []byte) error
	DeadLetter(ctx context.Context, source string, body []byte, cause error) error
}

// Notifier tells the original requester the final artifact is ready.
type Notifier interface {
	Notify(ctx context.Context, jobID, locator string) error
}

// Executor runs one stage's consume loop body: decode, cache check, handle,
// then advance, terminate, or record the failure. The same executor serves
// live envelopes and sweep-driven recovery batches.
type Executor struct {
	handler Handler
	content Lookup
	text    Lookup
	ledger  repository.RetryJobRepository
	bus     Bus
	stream  string
	notify  Notifier
	logger  *slog.Logger
}

func NewExecutor(
	handler Handler,
	content, text Lookup,
	ledger repository.RetryJobRepository,
	bus Bus,
	notify Notifier,
	logger *slog.Logger,
) (*Executor, error) {
	stream, err := StreamForStep(handler.Step())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		handler: handler,
		content: content,
		text:    text,
		ledger:  ledger,
		bus:     bus,
		stream:  stream,
		notify:  notify,
		logger:  logger,
	}, nil
}

// HandleDelivery processes one raw queue message. A nil return means the
// message may be acknowledged; a non-nil return leaves it with the broker
// for redelivery (used when the durable side effect itself failed).
func (e *Executor) HandleDelivery(ctx context.Context, raw []byte) error {
	msg, err := envelope.Decode(raw)
	if err != nil {
		// Malformed: no step or job id to tag a ledger row with. Park it
		// durably, then ack. If even that fails, let the broker redeliver.
		if dlErr := e.bus.DeadLetter(ctx, e.stream, raw, err); dlErr != nil {
			return dlErr
		}
		return nil
	}
	if msg.Batch != nil {
		return e.runBatch(ctx, msg.Batch)
	}
	return e.process(ctx, msg.Env)
}

// process is the normal path for one envelope, shared by live and recovery
// messages.
func (e *Executor) process(ctx context.Context, env *envelope.Envelope) error {
	if key := e.handler.CacheKey(env); key != "" {
		locator, ok, err := e.content.Get(ctx, key)
		if err != nil {
			e.logger.Warn("cache check failed, doing the work",
				"job_id", env.JobID, "key", key, "error", err)
		} else if ok {
			e.logger.Info("cache hit, short-circuiting",
				"job_id", env.JobID, "step", e.handler.Step(), "key", key)
			return e.finish(ctx, env, locator)
		}
	}

	res := e.handler.Handle(ctx, env)
	switch res.Outcome {
	case OutcomeAdvance:
		return e.advance(ctx, env, res.Next)
	case OutcomeTerminal:
		return e.terminal(ctx, env, res.Artifact)
	case OutcomeFailure:
		return e.recordFailure(ctx, env, res.Err)
	default:
		// A handler returning an unknown outcome is a bug; record it so the
		// job is not lost.
		return e.recordFailure(ctx, env, fmt.Errorf("handler returned unknown outcome %d", res.Outcome))
	}
}

func (e *Executor) advance(ctx context.Context, env, next *envelope.Envelope) error {
	nextStep := e.handler.Step() + 1
	if err := next.ReadyForStep(nextStep); err != nil {
		return e.recordFailure(ctx, env, err)
	}
	stream, err := StreamForStep(nextStep)
	if err != nil {
		return e.recordFailure(ctx, env, err)
	}
	body, err := json.Marshal(next)
	if err != nil {
		return e.recordFailure(ctx, env, err)
	}
	if err := e.bus.Publish(ctx, stream, body); err != nil {
		return e.recordFailure(ctx, env, err)
	}
	// This stage succeeded for this job, so any row stuck at it is done.
	if err := e.ledger.Resolve(ctx, env.JobID); err != nil {
		return err
	}
	e.logger.Info("stage advanced", "job_id", env.JobID,
		"step", e.handler.Step(), "next_stream", stream)
	return nil
}

func (e *Executor) terminal(ctx context.Context, env *envelope.Envelope, artifact string) error {
	// Durability before visibility: both cache namespaces are written
	// before anyone is told about the artifact.
	if env.ContentFingerprint != "" {
		if err := e.content.Set(ctx, env.ContentFingerprint, artifact); err != nil {
			return e.recordFailure(ctx, env, err)
		}
	}
	if env.TextFingerprint != "" {
		if err := e.text.Set(ctx, env.TextFingerprint, artifact); err != nil {
			return e.recordFailure(ctx, env, err)
		}
	}
	return e.finish(ctx, env, artifact)
}

// finish notifies the requester and resolves any ledger row for the job.
func (e *Executor) finish(ctx context.Context, env *envelope.Envelope, artifact string) error {
	if err := e.notify.Notify(ctx, env.JobID, artifact); err != nil {
		// The artifact is produced and cached; a lost notification is not
		// worth re-running the stage over.
		e.logger.Warn("notify failed", "job_id", env.JobID, "error", err)
	}
	if err := e.ledger.Resolve(ctx, env.JobID); err != nil {
		return err
	}
	e.logger.Info("job terminal", "job_id", env.JobID, "artifact", artifact)
	return nil
}

// recordFailure durably records the failure, after which the message may be
// acknowledged: recovery belongs to the sweep, not to in-line retries. A
// ledger write failure is the one case that blocks the ack.
func (e *Executor) recordFailure(ctx context.Context, env *envelope.Envelope, cause error) error {
	step := e.handler.Step()
	if err := e.ledger.RecordFailure(ctx, env, step, cause); err != nil {
		e.logger.Error("ledger write failed, leaving message pending",
			"job_id", env.JobID, "step", step, "error", err)
		return err
	}
	e.logger.Error("stage failed, recorded for recovery",
		"job_id", env.JobID, "step", step, "error", cause)
	return nil
}

// runBatch replays the ledger rows of a recovery message through the normal
// path. Jobs commit or fail independently; one bad job never aborts the
// rest.
func (e *Executor) runBatch(ctx context.Context, batch *envelope.Batch) error {
	rows, err := e.ledger.GetForStep(ctx, batch.JobIDs, e.handler.Step())
	if err != nil {
		return err
	}
	e.logger.Info("recovery batch received",
		"step", e.handler.Step(), "requested", len(batch.JobIDs), "replayable", len(rows))
	for i := range rows {
		env := rows[i].Envelope()
		if err := e.process(ctx, env); err != nil {
			// Only ledger-write failures surface here. The row is still
			// unresolved, so the next sweep picks the job up again.
			e.logger.Error("replay not committed", "job_id", env.JobID, "error", err)
		}
	}
	return nil
}
