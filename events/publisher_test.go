package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"

	"todolist/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	fail     error
	block    chan struct{}
}

func (f *fakeQueue) enqueue(ctx context.Context, content string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, content)
	return nil
}

func (f *fakeQueue) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func TestQueuePublisherDeliversAndDrainsOnClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fq := &fakeQueue{}
	p := NewQueuePublisher(fq.enqueue, Options{Workers: 2, Buffer: 16}, logger)

	for i := 0; i < 10; i++ {
		if err := p.Publish(context.Background(), domain.TaskEvent{ID: "e", Type: domain.EventTaskCreated}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	msgs := fq.received()
	if len(msgs) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(msgs))
	}
	var ev domain.TaskEvent
	if err := sonic.UnmarshalString(msgs[0], &ev); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if ev.Type != domain.EventTaskCreated {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestQueuePublisherPublishAfterClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fq := &fakeQueue{}
	p := NewQueuePublisher(fq.enqueue, Options{}, logger)
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := p.Publish(context.Background(), domain.TaskEvent{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestQueuePublisherInlineWhenSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	fq := &fakeQueue{block: make(chan struct{})}
	p := NewQueuePublisher(fq.enqueue, Options{Workers: 1, HandoffTimeout: 50 * time.Millisecond}, logger)

	// The single worker blocks on the first event, so the next one cannot be
	// handed off and is sent inline.
	first := make(chan error, 1)
	go func() { first <- p.Publish(context.Background(), domain.TaskEvent{ID: "first"}) }()
	if err := <-first; err != nil {
		t.Fatalf("first publish: %v", err)
	}

	inline := make(chan error, 1)
	go func() { inline <- p.Publish(context.Background(), domain.TaskEvent{ID: "second"}) }()

	time.Sleep(150 * time.Millisecond)
	close(fq.block)

	if err := <-inline; err != nil {
		t.Fatalf("inline publish: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(fq.received()); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}

	var sawInline bool
	for _, e := range hook.AllEntries() {
		if e.Message == "event buffer saturated; publishing inline" {
			sawInline = true
		}
	}
	if !sawInline {
		t.Fatalf("expected inline fallback to be logged")
	}
}

func TestQueuePublisherHandoffWaitsForCapacity(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := &QueuePublisher{
		log:  logger,
		opts: Options{HandoffTimeout: 100 * time.Millisecond},
		jobs: make(chan domain.TaskEvent, 1),
	}
	p.jobs <- domain.TaskEvent{}

	done := make(chan bool, 1)
	go func() { done <- p.handoff(domain.TaskEvent{}) }()

	select {
	case <-done:
		t.Fatal("handoff returned before capacity was freed")
	case <-time.After(20 * time.Millisecond):
	}
	<-p.jobs

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected handoff to succeed after capacity freed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handoff")
	}
}

func TestQueuePublisherHandoffTimesOut(t *testing.T) {
	p := &QueuePublisher{
		opts: Options{HandoffTimeout: 10 * time.Millisecond},
		jobs: make(chan domain.TaskEvent, 1),
	}
	p.jobs <- domain.TaskEvent{}
	if p.handoff(domain.TaskEvent{}) {
		t.Fatal("expected handoff to fail when buffer stays full")
	}

	p.opts.HandoffTimeout = 0
	if p.handoff(domain.TaskEvent{}) {
		t.Fatal("expected handoff without timeout to fail immediately")
	}
}

func TestQueuePublisherLogsWorkerFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	fq := &fakeQueue{fail: errors.New("queue unavailable")}
	p := NewQueuePublisher(fq.enqueue, Options{Workers: 1, Buffer: 4}, logger)

	if err := p.Publish(context.Background(), domain.TaskEvent{ID: "e1", Type: domain.EventTaskDeleted}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "event publish failed" || entry.Data["event_id"] != "e1" {
		t.Fatalf("expected publish failure log, got %#v", entry)
	}
}

func TestCloseRespectsContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fq := &fakeQueue{block: make(chan struct{})}
	defer close(fq.block)
	p := NewQueuePublisher(fq.enqueue, Options{Workers: 1, Buffer: 1}, logger)
	if err := p.Publish(context.Background(), domain.TaskEvent{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClockIncreasesPastWallClock(t *testing.T) {
	var c clock
	future := time.Now().Add(time.Hour).UnixNano()
	c.last.Store(future)

	if got := c.next(); got != future+1 {
		t.Fatalf("expected %d, got %d", future+1, got)
	}
	prev := c.next()
	for i := 0; i < 1000; i++ {
		next := c.next()
		if next <= prev {
			t.Fatalf("expected strictly increasing timestamps, got %d after %d", next, prev)
		}
		prev = next
	}
}
