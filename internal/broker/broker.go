// Package broker wraps Redis Streams as the durable message transport
// between pipeline stages: one stream per stage transition, one consumer
// group shared by all workers of a stage.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/common"
)

// StreamDeadLetter receives messages that could not be decoded into any
// known shape, along with the decode error.
const StreamDeadLetter = "pipeline:deadletter"

// reclaimMinIdle is how long a delivery may sit pending (consumer crashed
// before ack) before another consumer claims it.
const reclaimMinIdle = time.Minute

type Broker struct {
	rdb    *redis.Client
	group  string
	block  time.Duration
	logger *slog.Logger
}

// Open connects to the broker and verifies the connection.
func Open(ctx context.Context, cfg common.BrokerConfig, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker connect: %w", err)
	}
	logger.Info("broker connected", "addr", cfg.Addr, "group", cfg.ConsumerGroup)
	return &Broker{
		rdb:    rdb,
		group:  cfg.ConsumerGroup,
		block:  cfg.BlockTimeout,
		logger: logger,
	}, nil
}

func (b *Broker) Close() error {
	b.logger.Info("broker closing")
	return b.rdb.Close()
}

// Publish appends one message to a stream.
func (b *Broker) Publish(ctx context.Context, stream string, body []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"body": string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	return nil
}

// DeadLetter parks an undecodable message instead of dropping it.
func (b *Broker) DeadLetter(ctx context.Context, source string, body []byte, cause error) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamDeadLetter,
		Values: map[string]interface{}{
			"source":    source,
			"body":      string(body),
			"error":     cause.Error(),
			"failed_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("dead-letter from %s: %w", source, err)
	}
	b.logger.Warn("message dead-lettered", "source", source, "error", cause)
	return nil
}

// Consume reads the stream on behalf of the consumer group and hands each
// message body to fn. A nil return acknowledges the message; a non-nil
// return leaves it pending so the broker redelivers it later. Blocks until
// ctx is cancelled.
func (b *Broker) Consume(ctx context.Context, stream, consumer string, fn func(context.Context, []byte) error) error {
	if err := b.ensureGroup(ctx, stream); err != nil {
		return err
	}
	b.logger.Info("consumer started", "stream", stream, "consumer", consumer)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Pick up deliveries abandoned by a crashed consumer first.
		b.reclaim(ctx, stream, consumer, fn)

		entries, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Block:    b.block,
			Count:    1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error("read group failed", "stream", stream, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, entry := range entries {
			for _, msg := range entry.Messages {
				b.dispatch(ctx, stream, msg, fn)
			}
		}
	}
}

func (b *Broker) ensureGroup(ctx context.Context, stream string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, b.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group on %s: %w", stream, err)
	}
	return nil
}

func (b *Broker) reclaim(ctx context.Context, stream, consumer string, fn func(context.Context, []byte) error) {
	msgs, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    b.group,
		Consumer: consumer,
		MinIdle:  reclaimMinIdle,
		Start:    "0",
		Count:    10,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			b.logger.Warn("autoclaim failed", "stream", stream, "error", err)
		}
		return
	}
	for _, msg := range msgs {
		b.dispatch(ctx, stream, msg, fn)
	}
}

func (b *Broker) dispatch(ctx context.Context, stream string, msg redis.XMessage, fn func(context.Context, []byte) error) {
	body, ok := msg.Values["body"].(string)
	if !ok {
		// Not even our own envelope framing; park it and move on.
		if err := b.DeadLetter(ctx, stream, []byte(fmt.Sprint(msg.Values)), errors.New("missing body field")); err != nil {
			b.logger.Error("dead-letter publish failed", "stream", stream, "msg_id", msg.ID, "error", err)
			return
		}
		b.ack(ctx, stream, msg.ID)
		return
	}
	if err := fn(ctx, []byte(body)); err != nil {
		// Leave the message pending; the broker redelivers it.
		b.logger.Error("handler failed, message left pending",
			"stream", stream, "msg_id", msg.ID, "error", err)
		return
	}
	b.ack(ctx, stream, msg.ID)
}

func (b *Broker) ack(ctx context.Context, stream, id string) {
	if err := b.rdb.XAck(ctx, stream, b.group, id).Err(); err != nil {
		b.logger.Error("ack failed", "stream", stream, "msg_id", id, "error", err)
	}
}
