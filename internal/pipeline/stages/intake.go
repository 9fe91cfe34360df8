// Package stages implements the four pipeline stages: the intake producer
// and the extract, translate, and render handlers.
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/fingerprint"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/storage"
)

// SubmitResult is what the producer hands back to the caller: either the
// cached artifact straight away, or the id of the job now in flight.
type SubmitResult struct {
	JobID       string
	ArtifactURL string
	CacheHit    bool
}

// Intake is the ingest stage. It runs on the producer side rather than as a
// queue consumer: fingerprint the upload, short-circuit on a cache hit,
// otherwise persist the raw content and start the job.
type Intake struct {
	content  pipeline.Lookup
	store    storage.Store
	bus      pipeline.Bus
	external bool
	logger   *slog.Logger
}

func NewIntake(content pipeline.Lookup, store storage.Store, bus pipeline.Bus, external bool, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{content: content, store: store, bus: bus, external: external, logger: logger}
}

// Submit ingests one uploaded image.
func (i *Intake) Submit(ctx context.Context, filename string, data []byte) (SubmitResult, error) {
	if len(data) == 0 {
		return SubmitResult{}, fmt.Errorf("submit %s: empty content", filename)
	}
	hash := fingerprint.HashContent(data)

	if locator, ok, err := i.content.Get(ctx, hash); err != nil {
		i.logger.Warn("intake cache check failed", "fingerprint", hash, "error", err)
	} else if ok {
		i.logger.Info("intake cache hit", "fingerprint", hash, "artifact", locator)
		return SubmitResult{ArtifactURL: locator, CacheHit: true}, nil
	}

	jobID := uuid.New().String()
	stored := jobID + storedExt(filename)
	ref, err := i.store.Put(ctx, stored, data)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("persist upload: %w", err)
	}

	env := &envelope.Envelope{
		Type:               envelope.TypeFileUploaded,
		ContentRef:         ref,
		ContentFingerprint: hash,
		JobID:              jobID,
		IsExternalStorage:  i.external,
	}
	if err := env.ReadyForStep(pipeline.StepExtract); err != nil {
		return SubmitResult{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("encode envelope: %w", err)
	}
	if err := i.bus.Publish(ctx, pipeline.StreamIngestToExtract, body); err != nil {
		return SubmitResult{}, fmt.Errorf("publish job: %w", err)
	}

	i.logger.Info("job submitted", "job_id", jobID, "fingerprint", hash, "content_ref", ref)
	return SubmitResult{JobID: jobID}, nil
}

func storedExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ".bin"
	}
	return ext
}
