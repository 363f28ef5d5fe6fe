package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrInboxFull is returned when the inbox stayed full for the whole enqueue wait.
var ErrInboxFull = errors.New("kafka: producer inbox full")

const defaultEnqueueWait = 50 * time.Millisecond

// Producer buffers messages in an inbox and writes them from one goroutine.
// Messages carry their own topic, so one producer serves every order topic.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     *zap.Logger

	// EnqueueWait bounds how long Publish waits for room in a full inbox.
	EnqueueWait time.Duration
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		inbox:       make(chan kafka.Message, buf),
		closeCh:     make(chan struct{}),
		log:         log,
		EnqueueWait: defaultEnqueueWait,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					p.flush()
					return
				}
				p.write(m)
			}
		}
	}()
}

// Publish queues a message. When the inbox is full it waits at most
// EnqueueWait or until ctx is done, then gives up and the message is dropped.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return nil
	default:
	}

	wait := p.EnqueueWait
	if wait <= 0 {
		wait = defaultEnqueueWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("publish %s: %w", topic, ErrInboxFull)
	}
}

// Close stops accepting messages; the loop flushes what is queued and exits.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the writer is flushed and closed.
func (p *Producer) WaitClosed() { <-p.closeCh }

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("kafka write", zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// drain empties whatever is already queued without waiting for Close.
func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if !ok {
				p.flush()
				return
			}
			p.write(m)
		default:
			p.flush()
			return
		}
	}
}

func (p *Producer) flush() {
	if err := p.w.Close(); err != nil {
		p.log.Warn("kafka writer close", zap.Error(err))
	}
}
