// ledger-report exports the retry ledger as an XLSX workbook for operators.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/common"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/export"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		out        = flag.String("out", "retry-jobs.xlsx", "output XLSX file path")
		unresolved = flag.Bool("unresolved", false, "only rows still awaiting recovery")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		printError("Error: DB_URL is required\n")
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	ctx := context.Background()

	pool, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		printError("Error: open db: %v\n", err)
		os.Exit(1)
	}
	defer repository.Close(pool, logger)

	svc := export.NewService(repository.NewRetryJobRepository(pool, logger), logger)
	data, err := svc.ExportLedgerXLSX(ctx, *unresolved)
	if err != nil {
		printError("Error: export: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		printError("Error: write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes)\n", *out, len(data))
}
