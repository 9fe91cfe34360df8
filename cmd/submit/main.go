// submit ingests one image into the pipeline and optionally waits for the
// finished artifact.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/broker"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/cache"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/common"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/notify"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline/stages"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/repository"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/storage"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		file    = flag.String("file", "", "image file to submit (required)")
		wait    = flag.Bool("wait", false, "block until the artifact is ready")
		timeout = flag.Duration("timeout", 5*time.Minute, "how long to wait with --wait")
	)
	flag.Parse()

	if *file == "" {
		printError("Error: --file is required\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	data, err := os.ReadFile(*file)
	if err != nil {
		printError("Error: read %s: %v\n", *file, err)
		os.Exit(1)
	}

	pool, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		printError("Error: open db: %v\n", err)
		os.Exit(1)
	}
	defer repository.Close(pool, logger)

	bus, err := broker.Open(ctx, cfg.Broker, logger)
	if err != nil {
		printError("Error: open broker: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	fast, err := cache.OpenRedisTier(ctx, cfg.Cache)
	if err != nil {
		printError("Error: open cache: %v\n", err)
		os.Exit(1)
	}
	defer fast.Close()
	contentCache := cache.New(fast.Namespace("content:"), repository.NewContentCacheRepository(pool, logger), logger)

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		printError("Error: open storage: %v\n", err)
		os.Exit(1)
	}

	// Subscribe before publishing: the job id is not known yet, and a fast
	// pipeline could notify before a post-submit subscription registers.
	var sub *redis.PubSub
	if *wait {
		sub = fast.Client().PSubscribe(ctx, notify.Channel("*"))
		defer sub.Close()
		if _, err := sub.Receive(ctx); err != nil {
			printError("Error: subscribe for notifications: %v\n", err)
			os.Exit(1)
		}
	}

	intake := stages.NewIntake(contentCache, store, bus, cfg.Storage.Backend == "gcs", logger)
	res, err := intake.Submit(ctx, filepath.Base(*file), data)
	if err != nil {
		printError("Error: submit: %v\n", err)
		os.Exit(1)
	}

	if res.CacheHit {
		fmt.Printf("already processed: %s\n", res.ArtifactURL)
		return
	}
	fmt.Printf("job submitted: %s\n", res.JobID)

	if !*wait {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	want := notify.Channel(res.JobID)
	for {
		msg, err := sub.ReceiveMessage(waitCtx)
		if err != nil {
			printError("Error: waiting for artifact: %v\n", err)
			os.Exit(1)
		}
		if msg.Channel != want {
			continue
		}
		fmt.Printf("artifact ready: %s\n", msg.Payload)
		return
	}
}

func openStore(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.Backend == "gcs" {
		return storage.NewGCSStore(ctx, cfg.GCSBucket, logger)
	}
	return storage.NewLocalStore(cfg.LocalDir, logger)
}
