package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/payhookd/payhook/services/webhook-engine/internal/deliver"
	"github.com/payhookd/payhook/services/webhook-engine/internal/event"
	"github.com/segmentio/kafka-go"
)

// fakeReader serves a fixed queue and then blocks until the context ends,
// like a real reader on an idle partition.
type fakeReader struct {
	mu      sync.Mutex
	queue   []kafka.Message
	commits []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) highestCommit() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commits) == 0 {
		return 0, false
	}
	high := r.commits[0].Offset
	for _, m := range r.commits[1:] {
		if m.Offset > high {
			high = m.Offset
		}
	}
	return high, true
}

type processorFunc func(ctx context.Context, evt event.DomainEvent) (deliver.Outcome, error)

func (f processorFunc) Process(ctx context.Context, evt event.DomainEvent) (deliver.Outcome, error) {
	return f(ctx, evt)
}

func envelopeRecord(t *testing.T, offset int64, objectID string) kafka.Message {
	t.Helper()
	value := fmt.Sprintf(
		`{"record":{"id":%d,"event_type":"payment.succeeded","object_id":%q,"owner_id":"m1"},"metadata":{},"action":"insert"}`,
		offset, objectID)
	return kafka.Message{Topic: "webhook-events", Partition: 0, Offset: offset, Value: []byte(value)}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConsumer_MalformedRecordDoesNotBlockStream(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		envelopeRecord(t, 0, "obj-a"),
		{Topic: "webhook-events", Partition: 0, Offset: 1, Value: []byte("{not json")},
		envelopeRecord(t, 2, "obj-b"),
	}}

	var mu sync.Mutex
	var handled []string
	proc := processorFunc(func(_ context.Context, evt event.DomainEvent) (deliver.Outcome, error) {
		mu.Lock()
		handled = append(handled, evt.ObjectID)
		mu.Unlock()
		return deliver.OutcomeDelivered, nil
	})

	c := newWithReader(testLogger(), proc, Config{}, reader)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// The record after the poison one is still processed, and the commit
	// position walks past all three.
	waitFor(t, func() bool {
		high, ok := reader.highestCommit()
		return ok && high == 2
	}, "commit to reach offset 2")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 2 {
		t.Fatalf("expected 2 handled events, got %v", handled)
	}
}

func TestConsumer_ConsecutiveMalformedRunIsFatal(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Topic: "webhook-events", Partition: 0, Offset: 0, Value: []byte("garbage")},
		{Topic: "webhook-events", Partition: 0, Offset: 1, Value: []byte("garbage")},
		{Topic: "webhook-events", Partition: 0, Offset: 2, Value: []byte("garbage")},
	}}
	proc := processorFunc(func(_ context.Context, _ event.DomainEvent) (deliver.Outcome, error) {
		t.Fatal("processor must not run for malformed records")
		return deliver.OutcomeAborted, nil
	})

	c := newWithReader(testLogger(), proc, Config{MalformedLimit: 3}, reader)
	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected a fatal error after the malformed run")
	}

	// The malformed positions themselves are committed so a restart does
	// not replay them.
	high, ok := reader.highestCommit()
	if !ok || high != 2 {
		t.Fatalf("expected malformed records committed through offset 2, got %v %d", ok, high)
	}
}

func TestConsumer_NoCommitWhenProcessingAborts(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{envelopeRecord(t, 0, "obj-a")}}

	processed := make(chan struct{}, 1)
	proc := processorFunc(func(_ context.Context, _ event.DomainEvent) (deliver.Outcome, error) {
		processed <- struct{}{}
		return deliver.OutcomeAborted, fmt.Errorf("journal unavailable")
	})

	c := newWithReader(testLogger(), proc, Config{}, reader)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-processed
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if _, ok := reader.highestCommit(); ok {
		t.Fatal("aborted event must leave the checkpoint untouched")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
