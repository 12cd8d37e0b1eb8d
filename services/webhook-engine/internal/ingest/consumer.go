package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/payhookd/payhook/libs/kafkax"
	"github.com/payhookd/payhook/services/webhook-engine/internal/deliver"
	"github.com/payhookd/payhook/services/webhook-engine/internal/event"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Processor drives one event to a terminal outcome.
type Processor interface {
	Process(ctx context.Context, evt event.DomainEvent) (deliver.Outcome, error)
}

type Config struct {
	Brokers        string
	GroupID        string
	Topic          string
	Workers        int // default 16
	MalformedLimit int // default 10 consecutive undecodable records
}

// logReader is the slice of kafka.Reader the consumer depends on.
type logReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer pulls envelopes from the change stream, hands each decoded event
// to the coordinator on a bounded worker pool, and commits offsets only up
// to the highest position whose work has fully terminated.
type Consumer struct {
	reader         logReader
	logger         *slog.Logger
	processor      Processor
	workers        int
	malformedLimit int
	tracker        *commitTracker

	commitMu      sync.Mutex
	lastCommitted map[string]int64
}

func New(logger *slog.Logger, processor Processor, cfg Config) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newWithReader(logger, processor, cfg, reader)
}

func newWithReader(logger *slog.Logger, processor Processor, cfg Config, reader logReader) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.MalformedLimit <= 0 {
		cfg.MalformedLimit = 10
	}
	return &Consumer{
		reader:         reader,
		logger:         logger,
		processor:      processor,
		workers:        cfg.Workers,
		malformedLimit: cfg.MalformedLimit,
		tracker:        newCommitTracker(),
		lastCommitted:  map[string]int64{},
	}
}

// Run consumes until ctx is canceled or a fatal condition surfaces. A run of
// consecutive malformed records past the configured limit is fatal: nothing
// downstream can fix a producer writing garbage, and crashing loudly beats
// silently discarding the stream.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	malformedRun := 0

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka fetch error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		c.tracker.Track(msg)

		evt, decodeErr := event.Decode(msg.Value)
		if decodeErr != nil {
			malformedRun++
			// Headers often survive a mangled body and identify the record.
			meta := kafkax.ExtractEventMeta(msg)
			c.logger.Error("malformed log record skipped",
				"err", decodeErr, "topic", msg.Topic,
				"partition", msg.Partition, "offset", msg.Offset,
				"event_id", meta.EventID, "event_type", meta.EventType,
				"consecutive", malformedRun)
			// Skip past it: retrying a record that cannot decode never helps.
			c.complete(ctx, msg)
			if malformedRun >= c.malformedLimit {
				return fmt.Errorf("%d consecutive malformed records, aborting", malformedRun)
			}
			continue
		}
		malformedRun = 0

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		wg.Add(1)
		go func(msg kafka.Message, evt event.DomainEvent) {
			defer wg.Done()
			defer func() { <-sem }()

			msgCtx := kafkax.ExtractTraceContext(ctx, msg)
			spanCtx, span := otel.Tracer("webhook-engine").Start(msgCtx, "webhook.deliver",
				trace.WithAttributes(
					attribute.String("messaging.system", "kafka"),
					attribute.String("messaging.destination", msg.Topic),
					attribute.String("event.type", evt.EventType),
				),
			)
			defer span.End()

			outcome, err := c.processor.Process(spanCtx, evt)
			if err != nil {
				// No commit: the log will redeliver this position and the
				// journal makes the redelivery idempotent.
				c.logger.Error("event handling aborted, awaiting redelivery",
					"err", err, "object_id", evt.ObjectID, "offset", msg.Offset)
				span.RecordError(err)
				return
			}
			c.logger.Info("event handled",
				"outcome", string(outcome), "event_type", evt.EventType,
				"object_id", evt.ObjectID, "offset", msg.Offset)
			c.complete(ctx, msg)
		}(msg, evt)
	}
}

// complete marks the message done and commits the furthest contiguous
// position. Commits are serialized and monotonic per partition so a slow
// goroutine can never rewind the group offset.
func (c *Consumer) complete(ctx context.Context, msg kafka.Message) {
	ready, ok := c.tracker.Complete(msg)
	if !ok {
		return
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	key := partitionKey(ready)
	if last, seen := c.lastCommitted[key]; seen && ready.Offset <= last {
		return
	}
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(commitCtx, ready); err != nil {
		c.logger.Error("offset commit failed", "err", err, "offset", ready.Offset)
		return
	}
	c.lastCommitted[key] = ready.Offset
}
