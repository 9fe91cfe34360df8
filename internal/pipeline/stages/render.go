package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/render"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/storage"
)

// Render is step 3, the terminal stage: translated text to the stored PDF.
// The executor writes both cache namespaces and notifies the requester once
// this returns Terminal.
type Render struct {
	renderer render.Renderer
	store    storage.Store
	logger   *slog.Logger
}

func NewRender(renderer render.Renderer, store storage.Store, logger *slog.Logger) *Render {
	if logger == nil {
		logger = slog.Default()
	}
	return &Render{renderer: renderer, store: store, logger: logger}
}

func (s *Render) Step() int { return pipeline.StepRender }

func (s *Render) CacheKey(*envelope.Envelope) string { return "" }

func (s *Render) Handle(ctx context.Context, env *envelope.Envelope) pipeline.Result {
	pdf, err := s.renderer.Render(env.TranslatedText)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("render document: %w", err))
	}
	locator, err := s.store.Put(ctx, env.JobID+".pdf", pdf)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("store artifact: %w", err))
	}
	s.logger.Info("artifact rendered", "job_id", env.JobID, "artifact", locator, "bytes", len(pdf))
	return pipeline.Terminal(locator)
}
