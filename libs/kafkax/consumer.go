package kafkax

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finagg/libs/events"
)

// DecodeErrorFunc decides what happens to a message whose payload cannot be
// interpreted as an envelope. It will never become parseable, so this is an
// escalation point, not a retry point: the default logs and advances, an
// operator can plug in a halting or quarantining policy instead.
type DecodeErrorFunc func(ctx context.Context, msg kafka.Message, err error)

// Consumer subscribes every route a Router resolved and feeds decoded
// envelopes to the registered handlers. One reader runs per (topic, group);
// all handlers that share the pair see each message.
type Consumer struct {
	brokers       []string
	logger        *slog.Logger
	router        *events.Router
	onDecodeError DecodeErrorFunc
}

type ConsumerConfig struct {
	Brokers string
	// OnDecodeError overrides the default log-and-advance policy.
	OnDecodeError DecodeErrorFunc
}

func NewConsumer(logger *slog.Logger, router *events.Router, cfg ConsumerConfig) *Consumer {
	c := &Consumer{
		brokers:       SplitBrokers(cfg.Brokers),
		logger:        logger,
		router:        router,
		onDecodeError: cfg.OnDecodeError,
	}
	if c.onDecodeError == nil {
		c.onDecodeError = func(_ context.Context, msg kafka.Message, err error) {
			logger.Error("undecodable message skipped",
				"kafka_topic", msg.Topic,
				"offset", msg.Offset,
				"err", err,
			)
		}
	}
	return c
}

type subscription struct {
	topic    events.Topic
	group    string
	handlers []events.Handler
}

// Run blocks until ctx is cancelled, consuming every subscribed
// (topic, group) pair in its own goroutine.
func (c *Consumer) Run(ctx context.Context) {
	if len(c.brokers) == 0 {
		c.logger.Warn("kafka consumer disabled (no brokers configured)")
		return
	}

	var wg sync.WaitGroup
	for _, sub := range c.subscriptions() {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			c.consume(ctx, sub)
		}(sub)
	}
	wg.Wait()
}

// subscriptions folds the routing table so handlers sharing a (topic, group)
// share one reader instead of splitting its partitions.
func (c *Consumer) subscriptions() []subscription {
	var subs []subscription
	index := map[string]int{}
	for _, rt := range c.router.Routes() {
		k := string(rt.Topic) + "/" + rt.Group
		if i, ok := index[k]; ok {
			subs[i].handlers = append(subs[i].handlers, rt.Handler)
			continue
		}
		index[k] = len(subs)
		subs = append(subs, subscription{topic: rt.Topic, group: rt.Group, handlers: []events.Handler{rt.Handler}})
	}
	return subs
}

func (c *Consumer) consume(ctx context.Context, sub subscription) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		GroupID:  sub.group,
		Topic:    sub.topic.Destination(),
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	c.logger.Info("consuming", "topic", string(sub.topic), "group", sub.group)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "topic", string(sub.topic), "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		// The offset is committed only after the handlers ran, so a crash
		// mid-handling leaves the message uncommitted and the broker
		// redelivers it.
		if c.handleMessage(ctx, sub, msg) {
			if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.Error("offset commit failed", "topic", string(sub.topic), "err", err)
			}
		}
	}
}

// handleMessage decodes msg and invokes the subscription's handlers. The
// return value says whether the offset may be committed: true on success and
// on decode failure (an unparseable payload must not be redelivered), false
// when a handler failed, so the message stays uncommitted for redelivery.
func (c *Consumer) handleMessage(ctx context.Context, sub subscription, msg kafka.Message) bool {
	ctxMsg := ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	env, err := events.Unmarshal(msg.Value)
	if err != nil {
		c.onDecodeError(ctxSpan, msg, err)
		span.RecordError(err)
		return true
	}

	// The correlation id lives on a derived context only for the duration
	// of the handlers; unrelated work on this goroutine never sees it.
	ctxEnv := events.WithCorrelationID(ctxSpan, env.CorrelationID)
	ok := true
	for _, h := range sub.handlers {
		if err := h.Handle(ctxEnv, env); err != nil {
			c.logger.Error("handler failed",
				"topic", string(sub.topic),
				"group", sub.group,
				"event_id", env.ID,
				"payload_class", env.PayloadClass,
				"err", err,
			)
			span.RecordError(err)
			ok = false
		}
	}
	return ok
}
