package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/payhookd/payhook/libs/db"
	"github.com/payhookd/payhook/libs/kafkax"
	otelx "github.com/payhookd/payhook/libs/otel"
	"github.com/segmentio/kafka-go"
)

// changeRecord mirrors the record shape the webhook engine decodes on the
// consuming side.
type changeRecord struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	ObjectID  string          `json:"object_id"`
	OwnerID   string          `json:"owner_id"`
	Payload   json.RawMessage `json:"payload"`
}

type changeEnvelope struct {
	Record   changeRecord   `json:"record"`
	Metadata map[string]any `json:"metadata"`
	Action   string         `json:"action"`
}

// Publisher drains unpublished outbox rows to the change-stream topic.
// Publishing is at-least-once: a crash between WriteMessages and
// MarkPublished re-sends the batch, and the engine's journal collapses the
// duplicates.
type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	topic     string
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	Brokers   string
	Topic     string // default webhook-events
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = "webhook-events"
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		topic:     cfg.Topic,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  p.brokers,
		Topic:    p.topic,
		Balancer: &kafka.Hash{},
	})
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer *kafka.Writer) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	for _, r := range records {
		value, err := json.Marshal(envelopeFor(r))
		if err != nil {
			return err
		}
		msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
		msg := kafka.Message{
			Key:   []byte(r.AggregateID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(r.EventID)},
				{Key: "event_type", Value: []byte(r.EventType)},
			},
		}
		msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
		if err := writer.WriteMessages(ctx, msg); err != nil {
			return err
		}
	}

	var ids []int64
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func envelopeFor(r Record) changeEnvelope {
	action := "insert"
	if strings.HasSuffix(r.EventType, ".updated") {
		action = "update"
	}
	return changeEnvelope{
		Record: changeRecord{
			ID:        r.ID,
			EventType: r.EventType,
			ObjectID:  r.AggregateID,
			OwnerID:   r.OwnerID,
			Payload:   r.Payload,
		},
		Metadata: map[string]any{
			"event_id":       r.EventID,
			"aggregate_type": r.AggregateType,
			"recorded_at":    r.CreatedAt.UTC().Format(time.RFC3339),
		},
		Action: action,
	}
}
