package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"todolist/domain"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event publisher closed")

// Publisher delivers task events.
type Publisher interface {
	Publish(ctx context.Context, ev domain.TaskEvent) error
	Close(ctx context.Context) error
}

// EnqueueFunc sends a single serialized message to the queue.
type EnqueueFunc func(ctx context.Context, content string) error

// NewQueueClient creates an Azure Storage queue client from the given
// connection string.
func NewQueueClient(connStr, queue string) (*azqueue.QueueClient, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
}

// QueueEnqueuer adapts an Azure queue client to an EnqueueFunc.
func QueueEnqueuer(q *azqueue.QueueClient) EnqueueFunc {
	return func(ctx context.Context, content string) error {
		_, err := q.EnqueueMessage(ctx, content, nil)
		return err
	}
}

// Options configures a QueuePublisher.
type Options struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	Timeout        time.Duration
}

// QueuePublisher hands events to a pool of workers that enqueue them off the
// request path. When the buffer stays full for longer than HandoffTimeout the
// event is enqueued inline by the caller.
type QueuePublisher struct {
	enqueue EnqueueFunc
	log     *log.Logger
	opts    Options

	mu     sync.RWMutex
	closed bool
	jobs   chan domain.TaskEvent
	wg     sync.WaitGroup
}

// NewQueuePublisher starts the worker pool.
func NewQueuePublisher(enqueue EnqueueFunc, opts Options, logger *log.Logger) *QueuePublisher {
	if enqueue == nil {
		panic("events.NewQueuePublisher: enqueue is nil")
	}
	if logger == nil {
		panic("events.NewQueuePublisher: logger is nil")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	p := &QueuePublisher{
		enqueue: enqueue,
		log:     logger,
		opts:    opts,
		jobs:    make(chan domain.TaskEvent, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", opts.Workers, opts.Buffer, opts.Timeout, opts.HandoffTimeout)
	return p
}

// Publish hands ev to the workers, falling back to an inline enqueue when the
// buffer is saturated.
func (p *QueuePublisher) Publish(ctx context.Context, ev domain.TaskEvent) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	ok := p.handoff(ev)
	p.mu.RUnlock()
	if ok {
		return nil
	}

	p.log.WithField("event_type", ev.Type).Warn("event buffer saturated; publishing inline")
	return p.send(context.WithoutCancel(ctx), ev)
}

func (p *QueuePublisher) handoff(ev domain.TaskEvent) bool {
	select {
	case p.jobs <- ev:
		return true
	default:
	}
	if p.opts.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(p.opts.HandoffTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (p *QueuePublisher) worker(id int) {
	defer p.wg.Done()
	for ev := range p.jobs {
		if err := p.send(context.Background(), ev); err != nil {
			p.log.WithError(err).WithFields(log.Fields{
				"event_id":   ev.ID,
				"event_type": ev.Type,
				"entity_id":  ev.EntityID,
				"worker":     id,
			}).Error("event publish failed")
		}
	}
}

func (p *QueuePublisher) send(ctx context.Context, ev domain.TaskEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	return p.enqueue(ctx, string(data))
}

// Close stops accepting events and waits for the workers to drain the
// buffer, or for ctx to end.
func (p *QueuePublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, domain.TaskEvent) error { return nil }
func (Nop) Close(context.Context) error                     { return nil }

// EnsureQueue creates the queue, tolerating an existing one.
func EnsureQueue(ctx context.Context, q *azqueue.QueueClient) error {
	_, err := q.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
			return nil
		}
		return err
	}
	return nil
}
