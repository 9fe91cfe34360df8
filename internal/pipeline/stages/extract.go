package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/fingerprint"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/ocr"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/storage"
)

// Extract is step 1: image content to text. The executor pre-checks the
// content cache; this handler additionally checks the text cache once the
// text key is known, so byte-distinct images with identical text still
// short-circuit.
type Extract struct {
	store     storage.Store
	extractor ocr.TextExtractor
	text      pipeline.Lookup
	logger    *slog.Logger
}

func NewExtract(store storage.Store, extractor ocr.TextExtractor, text pipeline.Lookup, logger *slog.Logger) *Extract {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extract{store: store, extractor: extractor, text: text, logger: logger}
}

func (s *Extract) Step() int { return pipeline.StepExtract }

func (s *Extract) CacheKey(env *envelope.Envelope) string {
	return env.ContentFingerprint
}

func (s *Extract) Handle(ctx context.Context, env *envelope.Envelope) pipeline.Result {
	content := env.RawBytes
	if len(content) == 0 {
		loaded, err := s.store.Fetch(ctx, env.ContentRef)
		if err != nil {
			return pipeline.Fail(fmt.Errorf("load content: %w", err))
		}
		content = loaded
	}

	text, err := s.extractor.Extract(ctx, content)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("extract text: %w", err))
	}
	textKey := fingerprint.EncodeText(text)

	if locator, ok, err := s.text.Get(ctx, textKey); err != nil {
		s.logger.Warn("text cache check failed", "job_id", env.JobID, "error", err)
	} else if ok {
		s.logger.Info("text cache hit", "job_id", env.JobID)
		return pipeline.Terminal(locator)
	}

	next := env.Clone()
	next.Type = envelope.TypeTextExtracted
	next.ExtractedText = text
	next.TextFingerprint = textKey
	return pipeline.Advance(next)
}
