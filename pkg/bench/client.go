package bench

import (
	"bytes"
	"fmt"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/fanout"
)

// IdleTimeout bounds how long a consumer waits for the next message.
const IdleTimeout = 5 * time.Second

// Poll backoff while the queue is empty.
const (
	minPollInterval = 50 * time.Microsecond
	maxPollInterval = 10 * time.Millisecond
)

type BenchClient struct {
	Queue       *fanout.Queue
	ID          string
	MessageSize int
	// Idle overrides IdleTimeout when set.
	Idle time.Duration
}

// Produce appends count messages padded to MessageSize.
func (c *BenchClient) Produce(count int) error {
	for i := 0; i < count; i++ {
		payload := []byte(fmt.Sprintf("bench-msg-%s-%d", c.ID, i))
		if pad := c.MessageSize - len(payload); pad > 0 {
			payload = append(payload, bytes.Repeat([]byte{'x'}, pad)...)
		}
		if _, err := c.Queue.Enqueue(payload); err != nil {
			return fmt.Errorf("[%s] enqueue %d: %w", c.ID, i, err)
		}
	}
	return nil
}

// Consume dequeues as the client's fan-out id until it has read want
// messages or the queue stays empty for the idle timeout.
func (c *BenchClient) Consume(want int) (int, error) {
	idle := c.Idle
	if idle <= 0 {
		idle = IdleTimeout
	}
	got := 0
	idleSince := time.Now()
	wait := minPollInterval
	for got < want {
		data, err := c.Queue.Dequeue(c.ID)
		if err != nil {
			return got, fmt.Errorf("[%s] dequeue: %w", c.ID, err)
		}
		if data == nil {
			if time.Since(idleSince) > idle {
				return got, fmt.Errorf("[%s] idle for %v after %d of %d messages", c.ID, idle, got, want)
			}
			time.Sleep(wait)
			if wait *= 2; wait > maxPollInterval {
				wait = maxPollInterval
			}
			continue
		}
		got++
		idleSince = time.Now()
		wait = minPollInterval
	}
	return got, nil
}
