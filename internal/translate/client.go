// Package translate calls the machine-translation engine over HTTP.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/common"
)

// Translator converts text between languages.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

const maxAttempts = 3

// Client posts to a LibreTranslate-shaped endpoint. Transient failures are
// retried a few times with a doubling delay before the error is surfaced to
// the stage.
type Client struct {
	url        string
	sourceLang string
	targetLang string
	httpClient *http.Client
	logger     *slog.Logger
	baseDelay  time.Duration
}

func NewClient(cfg common.TranslateConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        cfg.URL,
		sourceLang: cfg.SourceLang,
		targetLang: cfg.TargetLang,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		baseDelay:  time.Second,
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	delay := c.baseDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		translated, err := c.sendOnce(ctx, text)
		if err == nil {
			return translated, nil
		}
		lastErr = err
		c.logger.Warn("translate attempt failed",
			"attempt", attempt, "error", err)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", fmt.Errorf("translate after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) sendOnce(ctx context.Context, text string) (string, error) {
	start := time.Now()
	body, err := json.Marshal(translateRequest{
		Q:      text,
		Source: c.sourceLang,
		Target: c.targetLang,
		Format: "text",
	})
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func(rc io.ReadCloser) {
		if cerr := rc.Close(); cerr != nil {
			c.logger.Warn("translate.http.response_body_close_error", "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	c.logger.Debug("translate.http.response",
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}

	var out translateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("empty translation in response")
	}
	return out.TranslatedText, nil
}
