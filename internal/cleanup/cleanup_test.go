package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fundora/apiserver/internal/mq"
	"github.com/fundora/apiserver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	mu      sync.Mutex
	deleted []string
	errs    map[string]error
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[key]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// fakeBroker delivers published messages synchronously to Subscribe.
type fakeBroker struct {
	mu         sync.Mutex
	published  []mq.Message
	publishErr error
}

func (b *fakeBroker) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if b.publishErr != nil {
		return "", b.publishErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, mq.Message{ID: channel, Data: data, Attributes: attrs})
	return "id", nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, _ string, handler mq.Handler) error {
	b.mu.Lock()
	msgs := append([]mq.Message(nil), b.published...)
	b.mu.Unlock()
	for _, msg := range msgs {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestInlineDeletesAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	store := &fakeStore{errs: map[string]error{
		"receipts/broken.pdf": errors.New("disk on fire"),
		"receipts/gone.pdf":   storage.ErrObjectNotFound,
	}}
	inline := NewInline(store, zap.New(core))

	ctx := context.Background()
	inline.Schedule(ctx, "receipts/a.pdf")
	inline.Schedule(ctx, "receipts/broken.pdf")
	inline.Schedule(ctx, "receipts/gone.pdf")
	inline.Schedule(ctx, "")
	inline.Wait()

	assert.Equal(t, []string{"receipts/a.pdf"}, store.keys())
	assert.Equal(t, 1, logs.FilterMessage("failed to delete object").Len())
	assert.Equal(t, 1, logs.FilterMessage("object already gone").Len())
}

func TestInlineOutlivesCancelledRequest(t *testing.T) {
	store := &fakeStore{}
	inline := NewInline(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inline.Schedule(ctx, "receipts/a.pdf")
	inline.Wait()

	assert.Equal(t, []string{"receipts/a.pdf"}, store.keys())
}

func TestQueuedPublishesJobsConsumedByWorker(t *testing.T) {
	store := &fakeStore{}
	broker := &fakeBroker{}
	queued := NewQueued(broker, "cleanup", NewInline(store, zap.NewNop()), zap.NewNop())

	queued.Schedule(context.Background(), "receipts/a.pdf")
	queued.Schedule(context.Background(), "")
	require.Len(t, broker.published, 1)

	var job Job
	require.NoError(t, json.Unmarshal(broker.published[0].Data, &job))
	assert.Equal(t, "receipts/a.pdf", job.Key)
	assert.False(t, job.RequestedAt.IsZero())
	assert.Empty(t, store.keys(), "queued jobs are not deleted by the publisher")

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(broker, "cleanup", store, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.Eventually(t, func() bool { return len(store.keys()) == 1 }, testTimeout, testTick)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, []string{"receipts/a.pdf"}, store.keys())
}

func TestQueuedFallsBackToInline(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	store := &fakeStore{}
	inline := NewInline(store, zap.NewNop())
	queued := NewQueued(&fakeBroker{publishErr: errors.New("broker down")}, "cleanup", inline, zap.New(core))

	queued.Schedule(context.Background(), "receipts/a.pdf")
	inline.Wait()

	assert.Equal(t, []string{"receipts/a.pdf"}, store.keys())
	assert.Equal(t, 1, logs.FilterMessage("failed to enqueue object cleanup, deleting inline").Len())
}

// stalledBroker never confirms a publish until the context gives up.
type stalledBroker struct{}

func (stalledBroker) Publish(ctx context.Context, _ string, _ []byte, _ map[string]string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestQueuedBoundsStalledPublish(t *testing.T) {
	store := &fakeStore{}
	inline := NewInline(store, zap.NewNop())
	queued := NewQueued(stalledBroker{}, "cleanup", inline, zap.NewNop())
	queued.timeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		queued.Schedule(ctx, "receipts/stalled.pdf")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule blocked on a stalled broker")
	}
	inline.Wait()

	assert.Equal(t, []string{"receipts/stalled.pdf"}, store.keys())
}

func TestWorkerAcksMalformedJobs(t *testing.T) {
	store := &fakeStore{}
	worker := NewWorker(&fakeBroker{}, "cleanup", store, zap.NewNop())

	assert.NoError(t, worker.Handle(context.Background(), mq.Message{Data: []byte("{nope")}))
	assert.NoError(t, worker.Handle(context.Background(), mq.Message{Data: []byte(`{"key":""}`)}))
	assert.Empty(t, store.keys())
}

const (
	testTimeout = 2 * time.Second
	testTick    = 10 * time.Millisecond
)
