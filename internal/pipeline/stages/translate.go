package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/translate"
)

// Translate is step 2: extracted text to the target language.
type Translate struct {
	translator translate.Translator
	logger     *slog.Logger
}

func NewTranslate(translator translate.Translator, logger *slog.Logger) *Translate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translate{translator: translator, logger: logger}
}

func (s *Translate) Step() int { return pipeline.StepTranslate }

// CacheKey is empty: dedup already happened on the content and text keys
// upstream, and the translated text is not known before the work is done.
func (s *Translate) CacheKey(*envelope.Envelope) string { return "" }

func (s *Translate) Handle(ctx context.Context, env *envelope.Envelope) pipeline.Result {
	translated, err := s.translator.Translate(ctx, env.ExtractedText)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("translate text: %w", err))
	}

	next := env.Clone()
	next.Type = envelope.TypeTextTranslated
	next.TranslatedText = translated
	return pipeline.Advance(next)
}
