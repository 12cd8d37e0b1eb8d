package ingest

import (
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

// commitTracker decides how far the consumer-group offset may advance when
// events complete out of order. A message becomes committable only once
// every earlier tracked message on its partition has also completed, which
// keeps the crash-safety contract intact under the worker pool: the
// checkpoint never moves past work that is still in flight.
type commitTracker struct {
	mu         sync.Mutex
	partitions map[string][]*trackedMsg
}

type trackedMsg struct {
	msg  kafka.Message
	done bool
}

func newCommitTracker() *commitTracker {
	return &commitTracker{partitions: map[string][]*trackedMsg{}}
}

func partitionKey(msg kafka.Message) string {
	return fmt.Sprintf("%s/%d", msg.Topic, msg.Partition)
}

// Track registers a fetched message. Messages must be tracked in fetch
// (offset) order per partition.
func (t *commitTracker) Track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := partitionKey(msg)
	t.partitions[key] = append(t.partitions[key], &trackedMsg{msg: msg})
}

// Complete marks a tracked message as fully handled and returns the highest
// message whose whole prefix has completed, if the completion unblocked one.
func (t *commitTracker) Complete(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := partitionKey(msg)
	window := t.partitions[key]
	for _, tm := range window {
		if tm.msg.Offset == msg.Offset {
			tm.done = true
			break
		}
	}

	var ready *trackedMsg
	i := 0
	for ; i < len(window); i++ {
		if !window[i].done {
			break
		}
		ready = window[i]
	}
	if ready == nil {
		return kafka.Message{}, false
	}
	t.partitions[key] = window[i:]
	if len(t.partitions[key]) == 0 {
		delete(t.partitions, key)
	}
	return ready.msg, true
}
