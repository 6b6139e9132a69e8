// Package cleanup removes stored objects that are no longer referenced,
// such as receipts of deleted or updated expenses. Deletion never blocks
// or fails the request that triggered it; failures are logged.
package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fundora/apiserver/internal/mq"
	"github.com/fundora/apiserver/internal/storage"
	"go.uber.org/zap"
)

const (
	deleteTimeout  = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// Scheduler accepts object keys for deferred deletion.
type Scheduler interface {
	Schedule(ctx context.Context, key string)
}

// Deleter is the subset of object storage the cleanup needs.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Publisher is the subset of mq.MQ used to enqueue jobs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Subscriber is the subset of mq.MQ used by the worker.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Job is the message published for each key to delete.
type Job struct {
	Key         string    `json:"key"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Inline deletes objects in a background goroutine of the current process.
type Inline struct {
	store  Deleter
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewInline(store Deleter, logger *zap.Logger) *Inline {
	return &Inline{store: store, logger: logger}
}

// Schedule starts the deletion and returns immediately. The request
// context is not used for the deletion itself, which outlives it.
func (i *Inline) Schedule(_ context.Context, key string) {
	if key == "" {
		return
	}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		deleteObject(ctx, i.store, i.logger, key)
	}()
}

// Wait blocks until every scheduled deletion has finished.
func (i *Inline) Wait() {
	i.wg.Wait()
}

// Queued publishes a Job per key to a broker channel, consumed by Worker.
// If publishing fails the key is deleted inline instead.
type Queued struct {
	publisher Publisher
	channel   string
	fallback  *Inline
	logger    *zap.Logger
	timeout   time.Duration
}

func NewQueued(publisher Publisher, channel string, fallback *Inline, logger *zap.Logger) *Queued {
	return &Queued{
		publisher: publisher,
		channel:   channel,
		fallback:  fallback,
		logger:    logger,
		timeout:   publishTimeout,
	}
}

// Schedule waits at most q.timeout for the broker to confirm the job, so a
// stalled broker delays the response by a bounded amount.
func (q *Queued) Schedule(ctx context.Context, key string) {
	if key == "" {
		return
	}
	data, err := json.Marshal(Job{Key: key, RequestedAt: time.Now().UTC()})
	if err == nil {
		publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
		_, err = q.publisher.Publish(publishCtx, q.channel, data, map[string]string{"type": "receipt.delete"})
		cancel()
	}
	if err != nil {
		q.logger.Warn("failed to enqueue object cleanup, deleting inline",
			zap.String("key", key),
			zap.String("channel", q.channel),
			zap.Error(err),
		)
		q.fallback.Schedule(ctx, key)
	}
}

// Worker consumes cleanup jobs and deletes the referenced objects.
type Worker struct {
	subscriber Subscriber
	channel    string
	store      Deleter
	logger     *zap.Logger
}

func NewWorker(subscriber Subscriber, channel string, store Deleter, logger *zap.Logger) *Worker {
	return &Worker{
		subscriber: subscriber,
		channel:    channel,
		store:      store,
		logger:     logger,
	}
}

// Run blocks consuming jobs until ctx is cancelled. Jobs are acknowledged
// even when the deletion fails; failures are logged and not retried.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("cleanup worker started", zap.String("channel", w.channel))
	err := w.subscriber.Subscribe(ctx, w.channel, w.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle processes a single job message.
func (w *Worker) Handle(ctx context.Context, msg mq.Message) error {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		w.logger.Warn("discarding malformed cleanup job", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if job.Key == "" {
		w.logger.Warn("discarding cleanup job without key", zap.String("message_id", msg.ID))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()
	deleteObject(ctx, w.store, w.logger, job.Key)
	return nil
}

func deleteObject(ctx context.Context, store Deleter, logger *zap.Logger, key string) {
	err := store.Delete(ctx, key)
	switch {
	case err == nil:
		logger.Debug("deleted object", zap.String("key", key))
	case errors.Is(err, storage.ErrObjectNotFound):
		logger.Warn("object already gone", zap.String("key", key))
	default:
		logger.Warn("failed to delete object", zap.String("key", key), zap.Error(err))
	}
}
