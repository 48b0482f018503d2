package kafkax

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"finagg/libs/events"
	"finagg/libs/outbox"
)

// ErrClosed is returned by publishes attempted after shutdown has begun.
var ErrClosed = errors.New("kafka producer closed")

// Producer publishes envelopes to the broker. The underlying writer is a
// shared, long-lived resource; Close is safe to call once during shutdown and
// rejects publishes issued after it.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewProducer(brokers []string, logger *slog.Logger) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Balancer:     &kafka.Hash{},
		RequiredAcks: -1, // all in-sync replicas
		WriteTimeout: 10 * time.Second,
	})
	return &Producer{writer: writer, logger: logger}
}

// Publish serializes env and hands it to the broker on its topic's
// destination, using the envelope key for partition ordering when present.
// A *events.EncodeError return is local and permanent; everything else is a
// transport failure the caller may retry.
func (p *Producer) Publish(ctx context.Context, env events.Envelope) error {
	data, err := events.Marshal(env)
	if err != nil {
		return err
	}
	return p.write(ctx, kafka.Message{
		Topic: env.Topic.Destination(),
		Key:   messageKey(env),
		Value: data,
		Headers: InjectTraceHeaders(ctx, []kafka.Header{
			{Key: HeaderEventID, Value: []byte(env.ID)},
			{Key: HeaderTopic, Value: []byte(env.Topic)},
			{Key: HeaderPayloadClass, Value: []byte(env.PayloadClass)},
			{Key: HeaderCorrelationID, Value: []byte(env.CorrelationID)},
		}),
	})
}

// PublishDeadLetter routes env to its topic's dead-letter destination, tagged
// with the failure diagnostics.
func (p *Producer) PublishDeadLetter(ctx context.Context, env events.Envelope, dl outbox.DeadLetter) error {
	data, err := events.Marshal(env)
	if err != nil {
		return err
	}
	return p.write(ctx, kafka.Message{
		Topic: env.Topic.DeadLetterDestination(),
		Key:   messageKey(env),
		Value: data,
		Headers: InjectTraceHeaders(ctx, []kafka.Header{
			{Key: HeaderEventID, Value: []byte(env.ID)},
			{Key: HeaderTopic, Value: []byte(env.Topic)},
			{Key: HeaderCorrelationID, Value: []byte(env.CorrelationID)},
			{Key: HeaderDLQReason, Value: []byte(dl.Reason)},
			{Key: HeaderDLQCause, Value: []byte(dl.Cause)},
			{Key: HeaderDLQSource, Value: []byte(dl.Source)},
			{Key: HeaderRetryNotBefore, Value: []byte(dl.RetryNotBefore.UTC().Format(time.RFC3339))},
		}),
	})
}

func (p *Producer) write(ctx context.Context, msg kafka.Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()
	return p.writer.WriteMessages(ctx, msg)
}

// Close stops accepting publishes and releases the writer. In-flight writes
// finish or fail on their own deadlines.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.writer.Close()
}

func messageKey(env events.Envelope) []byte {
	if env.Key == "" {
		return nil
	}
	return []byte(env.Key)
}

var _ outbox.Producer = (*Producer)(nil)
