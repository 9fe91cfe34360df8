// pipelined runs the three stage consumers and the recovery sweep in one
// process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/broker"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/cache"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/common"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/notify"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/ocr"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline/stages"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/render"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/repository"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/storage"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/sweep"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/translate"
)

func main() {
	// Logger
	zlog, _ := zap.NewProduction()
	defer zlog.Sync()
	log := zlog.Sugar()
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(slogger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB pool
	pool, err := repository.Open(ctx, cfg.Database, slogger)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer repository.Close(pool, slogger)
	if err := repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout, slogger); err != nil {
		log.Fatalf("db health: %v", err)
	}
	log.Infow("db health ok")

	// Broker
	bus, err := broker.Open(ctx, cfg.Broker, slogger)
	if err != nil {
		log.Fatalf("open broker: %v", err)
	}
	defer bus.Close()

	// Two-tier caches: Redis in front, Postgres underneath.
	fast, err := cache.OpenRedisTier(ctx, cfg.Cache)
	if err != nil {
		log.Fatalf("open cache: %v", err)
	}
	defer fast.Close()
	contentCache := cache.New(fast.Namespace("content:"), repository.NewContentCacheRepository(pool, slogger), slogger)
	textCache := cache.New(fast.Namespace("text:"), repository.NewTextCacheRepository(pool, slogger), slogger)

	ledger := repository.NewRetryJobRepository(pool, slogger)
	notifier := notify.NewRedisNotifier(fast.Client(), slogger)

	store, closeStore, err := openStore(ctx, cfg.Storage, slogger)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer closeStore()

	handlers := []pipeline.Handler{
		stages.NewExtract(store, ocr.NewExtractor(cfg.OCR, slogger), textCache, slogger),
		stages.NewTranslate(translate.NewClient(cfg.Translate, slogger), slogger),
		stages.NewRender(render.NewPDFRenderer(cfg.Render, slogger), store, slogger),
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "pipelined"
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		exec, err := pipeline.NewExecutor(h, contentCache, textCache, ledger, bus, notifier, slogger)
		if err != nil {
			log.Fatalf("executor for step %d: %v", h.Step(), err)
		}
		stream, err := pipeline.StreamForStep(h.Step())
		if err != nil {
			log.Fatalf("stream for step %d: %v", h.Step(), err)
		}
		consumer := fmt.Sprintf("%s-step%d", hostname, h.Step())

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Infow("consumer starting", "stream", stream, "consumer", consumer)
			if err := bus.Consume(ctx, stream, consumer, exec.HandleDelivery); err != nil && ctx.Err() == nil {
				log.Errorf("consumer %s stopped: %v", consumer, err)
				stop()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweep.New(ledger, bus, cfg.Sweep.Interval, slogger).Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("sweep stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	wg.Wait()
	fmt.Println("stopped.")
}

func openStore(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Backend {
	case "gcs":
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSBucket, logger)
		if err != nil {
			return nil, nil, err
		}
		return gcs, func() { gcs.Close() }, nil
	default:
		local, err := storage.NewLocalStore(cfg.LocalDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return local, func() {}, nil
	}
}
