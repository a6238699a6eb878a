package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/chess-academy/internal/platform/metrics"
	"github.com/example/chess-academy/services/progress/internal/handlers"
	"github.com/example/chess-academy/services/progress/internal/store"
)

const (
	StreamName = "PROGRESS"
	Durable    = "progress_batch"
)

// ErrPoison marks a message that can never be applied and must not be redelivered.
var ErrPoison = errors.New("worker: poison message")

// Options tunes the consumer; zero values use the defaults.
type Options struct {
	BatchSize int           // default 100
	MaxWait   time.Duration // default 2s
}

// BatchConsumer applies batches published by the async write path.
type BatchConsumer struct {
	Repo store.ProgressRepository
	Log  *zap.Logger
	Opts Options
}

// Handle applies one message payload. A replayed event is a no-op.
func (c *BatchConsumer) Handle(ctx context.Context, data []byte) error {
	var ev handlers.BatchEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return errors.Join(ErrPoison, err)
	}
	if ev.EventID == "" {
		return errors.Join(ErrPoison, errors.New("missing event_id"))
	}

	applied, dup, err := c.Repo.ApplyEvent(ctx, ev.EventID, ev.Records)
	if err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return errors.Join(ErrPoison, err)
		}
		metrics.RecordStoreUpsert("failure", len(ev.Records))
		return err
	}
	if dup {
		metrics.RecordStoreUpsert("duplicate", len(ev.Records))
		return nil
	}
	metrics.RecordStoreUpsert("applied", applied)
	if skipped := len(ev.Records) - applied; skipped > 0 {
		metrics.RecordStoreUpsert("stale", skipped)
	}
	return nil
}

// Run pulls from the durable consumer until ctx is cancelled.
func (c *BatchConsumer) Run(ctx context.Context, js nats.JetStreamContext) error {
	batchSize := c.Opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxWait := c.Opts.MaxWait
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}

	sub, err := js.PullSubscribe(handlers.SubjectBatch, Durable)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(batchSize, nats.MaxWait(maxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.Log.Warn("progress_consumer: fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range msgs {
			c.ack(ctx, m)
		}
	}
}

func (c *BatchConsumer) ack(ctx context.Context, m *nats.Msg) {
	err := c.Handle(ctx, m.Data)
	switch {
	case err == nil:
		if err := m.Ack(); err != nil {
			c.Log.Warn("progress_consumer: ack failed", zap.Error(err))
		}
	case errors.Is(err, ErrPoison):
		c.Log.Error("progress_consumer: dropping message", zap.Error(err))
		_ = m.Term()
	default:
		c.Log.Warn("progress_consumer: apply failed, redelivering", zap.Error(err))
		if err := m.Nak(); err != nil {
			c.Log.Warn("progress_consumer: nak failed", zap.Error(err))
		}
	}
}
