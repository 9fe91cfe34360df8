package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/repository"
)

var stepNames = map[int]string{
	1: "extract",
	2: "translate",
	3: "render",
}

// Service produces XLSX bytes for operational reports over the retry ledger.
type Service struct {
	ledger repository.RetryJobRepository
	logger *slog.Logger
}

func NewService(ledger repository.RetryJobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, logger: logger}
}

// ExportLedgerXLSX returns an XLSX workbook (as bytes) over the retry ledger.
// With unresolvedOnly set, only rows still awaiting recovery are included;
// otherwise the full audit trail is exported.
func (s *Service) ExportLedgerXLSX(ctx context.Context, unresolvedOnly bool) ([]byte, error) {
	start := time.Now()

	var (
		jobs []repository.RetryJob
		err  error
	)
	if unresolvedOnly {
		jobs, err = s.ledger.ListUnresolved(ctx)
	} else {
		jobs, err = s.ledger.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Retry Jobs"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"ID",
		"Job ID",
		"Stage",
		"Resolved",
		"Last Error",
		"Failed At",
		"Content Ref",
		"Recorded",
		"Updated",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, j := range jobs {
		stage := stepNames[j.Step]
		if stage == "" {
			stage = fmt.Sprintf("step %d", j.Step)
		}

		// Metadata is the recorded FailureDetail; fall back to the raw string
		// for rows written before the structured format.
		message, failedAt := j.Metadata, ""
		var detail repository.FailureDetail
		if err := json.Unmarshal([]byte(j.Metadata), &detail); err == nil && detail.Message != "" {
			message = detail.Message
			failedAt = detail.FailedAt
		}

		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, j.ID)
		write(2, j.JobID.String())
		write(3, stage)
		write(4, j.IsResolved)
		write(5, truncate(message, 140))
		write(6, failedAt)
		write(7, j.ContentRef)
		write(8, j.CreatedAt.Format("2006-01-02 15:04:05"))
		write(9, j.UpdatedAt.Format("2006-01-02 15:04:05"))

		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "B", "B", 38) // job id
	_ = f.SetColWidth(sheet, "C", "C", 12) // stage
	_ = f.SetColWidth(sheet, "E", "E", 48) // error
	_ = f.SetColWidth(sheet, "F", "F", 22) // failed at
	_ = f.SetColWidth(sheet, "G", "G", 60) // ref
	_ = f.SetColWidth(sheet, "H", "I", 20) // timestamps

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(jobs),
		"unresolved_only", unresolvedOnly,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
