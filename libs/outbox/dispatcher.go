package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"finagg/libs/events"
)

// Store is the outbox surface the dispatcher drives. The dispatcher is the
// only mutator besides the sender's insert.
type Store interface {
	FetchDue(ctx context.Context, limit int) ([]Entry, error)
	Claim(ctx context.Context, id string, version int, lease time.Duration) (bool, error)
	Delete(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, retryCount int, at time.Time) error
}

// DeadLetter carries the diagnostic metadata attached to a quarantined
// envelope.
type DeadLetter struct {
	Reason         string
	Cause          string
	Source         string
	RetryNotBefore time.Time
}

// Producer publishes envelopes to the broker. A *events.EncodeError return is
// permanent; anything else is treated as transient.
type Producer interface {
	Publish(ctx context.Context, env events.Envelope) error
	PublishDeadLetter(ctx context.Context, env events.Envelope, dl DeadLetter) error
}

// Dispatcher polls the outbox and turns durable entries into broker
// publications: at-least-once, ordered per (topic, key), with exponential
// backoff on transient failures and dead-lettering at the retry ceiling.
type Dispatcher struct {
	store          Store
	producer       Producer
	logger         *slog.Logger
	source         string
	interval       time.Duration
	batchSize      int
	maxRetries     int
	publishTimeout time.Duration
	backoff        Backoff
	now            func() time.Time
}

type DispatcherConfig struct {
	// Source identifies this dispatcher on dead-lettered envelopes,
	// typically the service name.
	Source         string
	Interval       time.Duration
	BatchSize      int
	MaxRetries     int
	PublishTimeout time.Duration
	Backoff        Backoff
}

func NewDispatcher(store Store, producer Producer, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Source == "" {
		cfg.Source = "outbox-dispatcher"
	}
	return &Dispatcher{
		store:          store,
		producer:       producer,
		logger:         logger,
		source:         cfg.Source,
		interval:       cfg.Interval,
		batchSize:      cfg.BatchSize,
		maxRetries:     cfg.MaxRetries,
		publishTimeout: cfg.PublishTimeout,
		backoff:        cfg.Backoff,
		now:            time.Now,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.ProcessBatch(ctx); err != nil {
				d.logger.Error("outbox batch failed", "err", err)
			}
		}
	}
}

// ProcessBatch runs one poll cycle. Entries sharing a (topic, key) are
// published in creation order and a failure parks the rest of that key's
// stream until the failed head succeeds or is dead-lettered; entries for other
// keys, and keyless entries, are unaffected.
func (d *Dispatcher) ProcessBatch(ctx context.Context) error {
	entries, err := d.store.FetchDue(ctx, d.batchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	blocked := map[string]bool{}
	for _, entry := range entries {
		key := ""
		if entry.Envelope.Key != "" {
			key = string(entry.Envelope.Topic) + "/" + entry.Envelope.Key
			if blocked[key] {
				continue
			}
		}
		if err := d.processEntry(ctx, entry); err != nil {
			if key != "" {
				blocked[key] = true
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// errNotClaimed means another dispatcher instance owns the entry this cycle.
var errNotClaimed = errors.New("outbox entry claimed elsewhere")

func (d *Dispatcher) processEntry(ctx context.Context, entry Entry) error {
	// The lease covers the publish attempt and a possible quarantine
	// publish, so the entry stays invisible to other dispatchers until this
	// one deletes or reschedules it.
	claimed, err := d.store.Claim(ctx, entry.Envelope.ID, entry.Version, 2*d.publishTimeout)
	if err != nil {
		return err
	}
	if !claimed {
		// Same-key successors must still wait: the owner may yet fail it.
		return errNotClaimed
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	err = d.producer.Publish(pubCtx, entry.Envelope)
	cancel()
	if err == nil {
		if err := d.store.Delete(ctx, entry.Envelope.ID); err != nil {
			d.logger.Error("outbox delete failed", "event_id", entry.Envelope.ID, "err", err)
		}
		return nil
	}

	var encodeErr *events.EncodeError
	if errors.As(err, &encodeErr) {
		// Local and permanent: no number of retries will make it encodable.
		return d.deadLetter(ctx, entry, "serialization-failed", err)
	}

	retryCount := entry.Envelope.RetryCount + 1
	if retryCount > d.maxRetries {
		entry.Envelope.RetryCount = retryCount
		return d.deadLetter(ctx, entry, "max-retries-exceeded", err)
	}

	next := d.now().UTC().Add(d.backoff.Delay(retryCount))
	d.logger.Warn("outbox publish failed, rescheduling",
		"event_id", entry.Envelope.ID,
		"topic", string(entry.Envelope.Topic),
		"retry_count", retryCount,
		"next_attempt", next,
		"err", err,
	)
	if err := d.store.Reschedule(ctx, entry.Envelope.ID, retryCount, next); err != nil {
		d.logger.Error("outbox reschedule failed", "event_id", entry.Envelope.ID, "err", err)
	}
	return err
}

func (d *Dispatcher) deadLetter(ctx context.Context, entry Entry, reason string, cause error) error {
	dl := DeadLetter{
		Reason:         reason,
		Cause:          truncate(cause.Error(), 512),
		Source:         d.source,
		RetryNotBefore: d.now().UTC().Add(d.backoff.Delay(entry.Envelope.RetryCount)),
	}
	dlCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	err := d.producer.PublishDeadLetter(dlCtx, entry.Envelope, dl)
	cancel()
	if err != nil {
		// Leave the entry in place; the next cycle tries the quarantine again.
		d.logger.Error("dead-letter publish failed", "event_id", entry.Envelope.ID, "err", err)
		return err
	}
	d.logger.Warn("envelope dead-lettered",
		"event_id", entry.Envelope.ID,
		"topic", string(entry.Envelope.Topic),
		"reason", reason,
		"retry_count", entry.Envelope.RetryCount,
	)
	if err := d.store.Delete(ctx, entry.Envelope.ID); err != nil {
		d.logger.Error("outbox delete failed", "event_id", entry.Envelope.ID, "err", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
