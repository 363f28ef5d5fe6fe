package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when the message was processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

const (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *zap.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log}
}

// Start fetches messages and hands them to the workers until ctx is done.
// Every partition of a topic is pinned to one worker so its offsets are
// processed and committed in order. A failing message is retried until it
// succeeds; nothing after it on that partition is committed before it.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if err := c.handle(ctx, h, m, id); err != nil {
					return // ctx done; the message stays uncommitted and is redelivered
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Warn("commit offset", zap.String("topic", m.Topic), zap.Error(err))
				}
			}
		}(i, queues[i])
	}
	defer wg.Wait()
	defer func() {
		for _, q := range queues {
			close(q)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case queues[workerFor(m.Topic, m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message, worker int) error {
	return retry(ctx, retryBaseDelay, retryMaxDelay, func(attempt int) error {
		err := h(ctx, m)
		if err != nil {
			c.log.Warn("handle message",
				zap.Int("worker", worker),
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	})
}

// retry calls fn until it succeeds, doubling the pause between attempts up to
// max. It returns ctx.Err() if ctx ends first.
func retry(ctx context.Context, base, max time.Duration, fn func(attempt int) error) error {
	delay := base
	for attempt := 1; ; attempt++ {
		if err := fn(attempt); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > max {
			delay = max
		}
	}
}

// workerFor maps a topic partition to a fixed worker.
func workerFor(topic string, partition, workers int) int {
	h := uint32(2166136261)
	for i := 0; i < len(topic); i++ {
		h ^= uint32(topic[i])
		h *= 16777619
	}
	return int((h + uint32(partition)) % uint32(workers))
}
