// Package render turns translated text into the final PDF artifact.
package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/common"
)

// Renderer produces the final document bytes.
type Renderer interface {
	Render(text string) ([]byte, error)
}

// PDFRenderer lays paragraphs (split on blank lines) onto letter pages.
// With a FontPath configured it embeds that TTF for full Unicode coverage,
// which translated output generally needs.
type PDFRenderer struct {
	fontPath string
	logger   *slog.Logger
}

func NewPDFRenderer(cfg common.RenderConfig, logger *slog.Logger) *PDFRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFRenderer{fontPath: cfg.FontPath, logger: logger}
}

func (r *PDFRenderer) Render(text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("render: empty text")
	}

	pdf := fpdf.New("P", "mm", "Letter", "")
	font := "Helvetica"
	if r.fontPath != "" {
		font = "document"
		pdf.AddUTF8Font(font, "", r.fontPath)
	}
	pdf.SetFont(font, "", 12)
	pdf.AddPage()

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pdf.MultiCell(0, 6, para, "", "L", false)
		pdf.Ln(4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	r.logger.Debug("pdf rendered", "chars_in", len(text), "bytes_out", buf.Len())
	return buf.Bytes(), nil
}
