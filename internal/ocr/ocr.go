// Package ocr extracts text from images by shelling out to tesseract.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/common"
)

// TextExtractor converts image bytes to text.
type TextExtractor interface {
	Extract(ctx context.Context, image []byte) (string, error)
}

// Extractor runs tesseract on a temp copy of the image.
type Extractor struct {
	binary   string
	language string
	timeout  time.Duration
	runner   Runner
	logger   *slog.Logger
}

func NewExtractor(cfg common.OCRConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		binary:   cfg.TesseractPath,
		language: cfg.Language,
		timeout:  cfg.Timeout,
		runner:   newExecRunner(logger),
		logger:   logger,
	}
}

func (e *Extractor) Extract(ctx context.Context, image []byte) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	tmp := filepath.Join(os.TempDir(), uuid.New().String())
	if err := os.WriteFile(tmp, image, 0o600); err != nil {
		return "", fmt.Errorf("write temp image: %w", err)
	}
	defer os.Remove(tmp)

	args := []string{tmp, "stdout"}
	if e.language != "" {
		args = append(args, "-l", e.language)
	}
	stdout, stderr, err := e.runner.Run(ctx, e.binary, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(stderr), 512))
	}

	text := strings.TrimSpace(string(stdout))
	if text == "" {
		return "", fmt.Errorf("tesseract produced no text")
	}
	e.logger.Debug("ocr extracted", "bytes_in", len(image), "chars_out", len(text))
	return text, nil
}
