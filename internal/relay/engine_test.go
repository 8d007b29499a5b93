package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/outbox/internal/outbox"
)

func makeRecord(t *testing.T, aggregateID, aggregateType string, createdAt time.Time) *outbox.Record {
	t.Helper()
	rec := outbox.NewRecord(aggregateID, aggregateType, aggregateType+"_INSERT", []byte(`{"id":1}`), nil, 3)
	rec.CreatedAt = createdAt
	return rec
}

type stubStore struct {
	leased      []*outbox.Record
	leaseErr    error
	denyClaim   map[string]bool
	claims      []string
	staleSent   bool
	sent        []string
	failStatus  outbox.Status
	failedWith  []string
	countCalls  []outbox.Status
	deleted     []time.Time
	deleteCount int64
}

func (s *stubStore) LeasePending(_ context.Context, _ string, _ int) ([]*outbox.Record, error) {
	return s.leased, s.leaseErr
}

func (s *stubStore) Claim(_ context.Context, rec *outbox.Record, workerID string) (bool, error) {
	if s.denyClaim[rec.ID.String()] {
		return false, nil
	}
	s.claims = append(s.claims, rec.ID.String())
	rec.WorkerID = workerID
	rec.Version++
	return true, nil
}

func (s *stubStore) MarkSent(_ context.Context, rec *outbox.Record) (bool, error) {
	if s.staleSent {
		return false, nil
	}
	s.sent = append(s.sent, rec.ID.String())
	rec.Status = outbox.StatusSent
	rec.Version++
	return true, nil
}

func (s *stubStore) MarkFailed(_ context.Context, rec *outbox.Record, errMsg string) (outbox.Status, bool, error) {
	s.failedWith = append(s.failedWith, errMsg)
	rec.RetryCount++
	rec.ErrorMessage = errMsg
	status := s.failStatus
	if status == "" {
		status = outbox.StatusPending
	}
	rec.Status = status
	rec.Version++
	return status, true, nil
}

func (s *stubStore) CountByStatus(_ context.Context, status outbox.Status) (int64, error) {
	s.countCalls = append(s.countCalls, status)
	return 0, nil
}

func (s *stubStore) DeleteSentBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.deleted = append(s.deleted, cutoff)
	return s.deleteCount, nil
}

type publishedMessage struct {
	topic string
	key   string
	value []byte
}

type stubPublisher struct {
	published []publishedMessage
	errFor    map[string]error // keyed by topic; "" matches every topic
	onPublish func()
}

func (p *stubPublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	if p.onPublish != nil {
		p.onPublish()
	}
	if err, ok := p.errFor[topic]; ok {
		return err
	}
	if err, ok := p.errFor[""]; ok {
		return err
	}
	p.published = append(p.published, publishedMessage{topic: topic, key: string(key), value: value})
	return nil
}

func newTestEngine(store Store, publisher Publisher) *Engine {
	return NewEngine(store, publisher, Options{WorkerID: "worker-1"})
}

func TestPollPublishesBatchInOrder(t *testing.T) {
	base := time.Now().UTC()
	first := makeRecord(t, "agg-1", "User", base)
	second := makeRecord(t, "agg-1", "User", base.Add(time.Second))

	store := &stubStore{leased: []*outbox.Record{first, second}}
	publisher := &stubPublisher{}
	engine := newTestEngine(store, publisher)

	require.NoError(t, engine.pollOnce(context.Background()))

	require.Len(t, publisher.published, 2)
	require.Equal(t, "outbox.events.user", publisher.published[0].topic)
	require.Equal(t, "agg-1", publisher.published[0].key)
	require.Equal(t, []string{first.ID.String(), second.ID.String()}, store.claims,
		"same-key records must go out in created_at order")
	require.Equal(t, []string{first.ID.String(), second.ID.String()}, store.sent)

	// Gauges refresh after a non-empty pass.
	require.ElementsMatch(t,
		[]outbox.Status{outbox.StatusPending, outbox.StatusFailed, outbox.StatusDeadLetter},
		store.countCalls)
}

func TestPollEmptyBatchShortCircuits(t *testing.T) {
	store := &stubStore{}
	publisher := &stubPublisher{}
	engine := newTestEngine(store, publisher)

	require.NoError(t, engine.pollOnce(context.Background()))
	require.Empty(t, publisher.published)
	require.Empty(t, store.countCalls)
}

func TestPollSkipsLostClaim(t *testing.T) {
	base := time.Now().UTC()
	won := makeRecord(t, "agg-1", "User", base)
	lost := makeRecord(t, "agg-2", "User", base.Add(time.Second))

	store := &stubStore{
		leased:    []*outbox.Record{won, lost},
		denyClaim: map[string]bool{lost.ID.String(): true},
	}
	publisher := &stubPublisher{}
	engine := newTestEngine(store, publisher)

	require.NoError(t, engine.pollOnce(context.Background()))

	require.Len(t, publisher.published, 1)
	require.Equal(t, won.ID.String(), store.sent[0])
	require.Empty(t, store.failedWith, "a lost claim is not a failure")
}

func TestTransientFailureLeavesRecordRetriable(t *testing.T) {
	rec := makeRecord(t, "agg-1", "User", time.Now().UTC())
	store := &stubStore{leased: []*outbox.Record{rec}, failStatus: outbox.StatusPending}
	publisher := &stubPublisher{errFor: map[string]error{"outbox.events.user": errors.New("broker unavailable")}}
	engine := newTestEngine(store, publisher)

	require.NoError(t, engine.pollOnce(context.Background()), "per-record failures never propagate")

	require.Empty(t, store.sent)
	require.Equal(t, []string{"broker unavailable"}, store.failedWith)
	require.Empty(t, publisher.published, "no dead-letter mirror while retries remain")
}

func TestExhaustedRecordMirrorsToDeadLetterTopic(t *testing.T) {
	rec := makeRecord(t, "agg-1", "User", time.Now().UTC())
	store := &stubStore{leased: []*outbox.Record{rec}, failStatus: outbox.StatusDeadLetter}
	publisher := &stubPublisher{errFor: map[string]error{"outbox.events.user": errors.New("permanent failure")}}
	engine := newTestEngine(store, publisher)

	require.NoError(t, engine.pollOnce(context.Background()))

	require.Len(t, publisher.published, 1)
	mirror := publisher.published[0]
	require.Equal(t, "outbox.dead-letter", mirror.topic)
	require.Equal(t, rec.ID.String(), mirror.key, "dead-letter envelope is keyed by record id")
	require.NotEmpty(t, mirror.value)
}

func TestDeadLetterMirrorFailureIsSwallowed(t *testing.T) {
	rec := makeRecord(t, "agg-1", "User", time.Now().UTC())
	store := &stubStore{leased: []*outbox.Record{rec}, failStatus: outbox.StatusDeadLetter}
	publisher := &stubPublisher{errFor: map[string]error{"": errors.New("everything is down")}}
	engine := newTestEngine(store, publisher)

	require.NoError(t, engine.pollOnce(context.Background()))
	require.Empty(t, publisher.published)
}

func TestStaleMarkSentIsNotAnError(t *testing.T) {
	rec := makeRecord(t, "agg-1", "User", time.Now().UTC())
	store := &stubStore{leased: []*outbox.Record{rec}, staleSent: true}
	publisher := &stubPublisher{}
	engine := newTestEngine(store, publisher)

	require.NoError(t, engine.pollOnce(context.Background()))
	require.Len(t, publisher.published, 1)
	require.Empty(t, store.sent)
}

func TestPollDrainsCurrentRecordOnCancel(t *testing.T) {
	base := time.Now().UTC()
	first := makeRecord(t, "agg-1", "User", base)
	second := makeRecord(t, "agg-2", "User", base.Add(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	store := &stubStore{leased: []*outbox.Record{first, second}}
	publisher := &stubPublisher{onPublish: cancel}
	engine := newTestEngine(store, publisher)

	err := engine.pollOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, publisher.published, 1, "the in-flight record finishes, the rest wait")
	require.Equal(t, []string{first.ID.String()}, store.sent)
}

func TestPruneUsesRetentionCutoff(t *testing.T) {
	store := &stubStore{deleteCount: 3}
	engine := NewEngine(store, &stubPublisher{}, Options{WorkerID: "worker-1", Retention: 48 * time.Hour})

	require.NoError(t, engine.pruneOnce(context.Background()))
	require.Len(t, store.deleted, 1)
	require.WithinDuration(t, time.Now().Add(-48*time.Hour), store.deleted[0], time.Minute)
}

func TestNextCleanup(t *testing.T) {
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)

	next := nextCleanup(now, "02:00")
	require.Equal(t, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), next)

	next = nextCleanup(now.Add(2*time.Hour), "02:00")
	require.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), next)

	// Unparseable schedule falls back to 02:00.
	next = nextCleanup(now, "not-a-time")
	require.Equal(t, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), next)
}

func TestEngineRunStopsAndDrains(t *testing.T) {
	store := &stubStore{}
	engine := NewEngine(store, &stubPublisher{}, Options{WorkerID: "worker-1", PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not drain after cancellation")
	}
}
