package outbox

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"finagg/libs/events"
)

// leaseStore mirrors the PGStore due/claim semantics in memory: FetchDue
// returns rows whose scheduled_for has passed in seq order, keyed rows are
// held back behind an earlier unsent sibling, and a successful claim bumps
// the version and leases scheduled_for into the future.
type leaseRow struct {
	entry        Entry
	version      int
	scheduledFor time.Time
}

type leaseStore struct {
	mu   sync.Mutex
	rows map[string]*leaseRow
	seq  int64
}

func newLeaseStore() *leaseStore {
	return &leaseStore{rows: map[string]*leaseRow{}}
}

func (s *leaseStore) add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.Seq = s.seq
	s.rows[e.Envelope.ID] = &leaseRow{entry: e, scheduledFor: time.Now().Add(-time.Second)}
}

func (s *leaseStore) FetchDue(context.Context, int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var due []Entry
	for _, r := range s.rows {
		if r.scheduledFor.After(now) {
			continue
		}
		if r.entry.Envelope.Key != "" && s.heldBackLocked(r, now) {
			continue
		}
		e := r.entry
		e.Version = r.version
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Seq < due[j].Seq })
	return due, nil
}

func (s *leaseStore) heldBackLocked(r *leaseRow, now time.Time) bool {
	for _, p := range s.rows {
		if p.entry.Envelope.Topic == r.entry.Envelope.Topic &&
			p.entry.Envelope.Key == r.entry.Envelope.Key &&
			p.entry.Seq < r.entry.Seq &&
			p.scheduledFor.After(now) {
			return true
		}
	}
	return false
}

func (s *leaseStore) Claim(_ context.Context, id string, version int, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.version != version {
		return false, nil
	}
	r.version++
	r.scheduledFor = time.Now().Add(lease)
	return true, nil
}

func (s *leaseStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *leaseStore) Reschedule(_ context.Context, id string, retryCount int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		r.entry.Envelope.RetryCount = retryCount
		r.scheduledFor = at
	}
	return nil
}

// gatedProducer parks the first publish until released so a second dispatcher
// can poll while the first one is mid-flight.
type gatedProducer struct {
	mu        sync.Mutex
	attempts  int
	published []string

	first    sync.Once
	inflight chan struct{}
	release  chan struct{}
}

func newGatedProducer() *gatedProducer {
	return &gatedProducer{
		inflight: make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (p *gatedProducer) Publish(_ context.Context, env events.Envelope) error {
	p.mu.Lock()
	p.attempts++
	p.mu.Unlock()

	var gated bool
	p.first.Do(func() { gated = true })
	if gated {
		p.inflight <- struct{}{}
		<-p.release
	}

	p.mu.Lock()
	p.published = append(p.published, env.ID)
	p.mu.Unlock()
	return nil
}

func (p *gatedProducer) PublishDeadLetter(context.Context, events.Envelope, DeadLetter) error {
	return nil
}

func (p *gatedProducer) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func TestDispatcher_ClaimLeaseExcludesConcurrentDispatcher(t *testing.T) {
	store := newLeaseStore()
	store.add(entry("e-1", events.TopicUser, "user-1", 0))

	producer := newGatedProducer()
	cfg := DispatcherConfig{PublishTimeout: time.Minute}
	d1 := newTestDispatcher(store, producer, cfg)
	d2 := newTestDispatcher(store, producer, cfg)

	done := make(chan error, 1)
	go func() { done <- d1.ProcessBatch(context.Background()) }()
	<-producer.inflight // d1 owns e-1 and its publish is in flight

	if err := d2.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("second dispatcher batch failed: %v", err)
	}
	if got := producer.attemptCount(); got != 1 {
		t.Fatalf("entry must stay invisible while leased, saw %d publish attempts", got)
	}

	close(producer.release)
	if err := <-done; err != nil {
		t.Fatalf("first dispatcher batch failed: %v", err)
	}
	if len(producer.published) != 1 || producer.published[0] != "e-1" {
		t.Fatalf("expected a single delivery of e-1, got %v", producer.published)
	}
	if _, err := store.FetchDue(context.Background(), 10); err != nil {
		t.Fatalf("FetchDue failed: %v", err)
	}
	store.mu.Lock()
	remaining := len(store.rows)
	store.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("entry must be deleted after delivery, %d rows left", remaining)
	}
}

func TestDispatcher_TiedTimestampsKeepInsertionOrder(t *testing.T) {
	store := newLeaseStore()
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	first := entry("a-1", events.TopicUser, "user-42", 0)
	second := entry("a-2", events.TopicUser, "user-42", 0)
	first.Envelope.Timestamp = ts
	second.Envelope.Timestamp = ts
	store.add(first)
	store.add(second)

	producer := newFakeProducer()
	d := newTestDispatcher(store, producer, DispatcherConfig{})

	if err := d.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(producer.published) != 2 ||
		producer.published[0].ID != "a-1" ||
		producer.published[1].ID != "a-2" {
		t.Fatalf("insertion order must break the timestamp tie, got %v", producer.published)
	}
}
