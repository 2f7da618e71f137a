package storage

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"todolist/domain"
)

type stubBackend struct {
	listFn     func(ctx context.Context) ([]domain.Task, error)
	addFn      func(ctx context.Context, text string) (domain.Task, error)
	markDoneFn func(ctx context.Context, id string) (domain.UpdateAck, error)
	deleteFn   func(ctx context.Context, id string) (*domain.Task, error)
}

func (s *stubBackend) List(ctx context.Context) ([]domain.Task, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected List call")
	}
	return s.listFn(ctx)
}

func (s *stubBackend) Add(ctx context.Context, text string) (domain.Task, error) {
	if s.addFn == nil {
		return domain.Task{}, errors.New("unexpected Add call")
	}
	return s.addFn(ctx, text)
}

func (s *stubBackend) MarkDone(ctx context.Context, id string) (domain.UpdateAck, error) {
	if s.markDoneFn == nil {
		return domain.UpdateAck{}, errors.New("unexpected MarkDone call")
	}
	return s.markDoneFn(ctx, id)
}

func (s *stubBackend) Delete(ctx context.Context, id string) (*domain.Task, error) {
	if s.deleteFn == nil {
		return nil, errors.New("unexpected Delete call")
	}
	return s.deleteFn(ctx, id)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func currentListKey(mr *miniredis.Miniredis) string {
	gen, err := mr.Get(tasksGenKey)
	if err != nil {
		gen = "0"
	}
	return tasksListPrefix + gen
}

func TestCacheListMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	expected := []domain.Task{{ID: "t1", Task: "buy milk"}}

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(context.Context) ([]domain.Task, error) {
			calls++
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if ttl := mr.TTL(currentListKey(mr)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	tasks, err = cache.List(ctx)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected cached tasks: %#v", tasks)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
}

func TestCacheEmptyListStaysNonNil(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewCache(&stubBackend{
		listFn: func(context.Context) ([]domain.Task, error) { return []domain.Task{}, nil },
	}, client, time.Minute)

	if _, err := cache.List(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	tasks, err := cache.List(context.Background())
	if err != nil {
		t.Fatalf("cached list: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", tasks)
	}
}

func TestCacheWritesInvalidate(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	base := &stubBackend{
		listFn: func(context.Context) ([]domain.Task, error) { return []domain.Task{{ID: "t1"}}, nil },
		addFn: func(_ context.Context, text string) (domain.Task, error) {
			return domain.Task{ID: "t2", Task: text}, nil
		},
		markDoneFn: func(context.Context, string) (domain.UpdateAck, error) {
			return domain.UpdateAck{Acknowledged: true, MatchedCount: 1, ModifiedCount: 1}, nil
		},
		deleteFn: func(_ context.Context, id string) (*domain.Task, error) {
			return &domain.Task{ID: id}, nil
		},
	}
	cache := NewCache(base, client, time.Minute)

	writes := map[string]func() error{
		"add": func() error { _, err := cache.Add(ctx, "x"); return err },
		"mark done": func() error {
			_, err := cache.MarkDone(ctx, "t1")
			return err
		},
		"delete": func() error { _, err := cache.Delete(ctx, "t1"); return err },
	}
	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			if _, err := cache.List(ctx); err != nil {
				t.Fatalf("prime cache: %v", err)
			}
			if !mr.Exists(currentListKey(mr)) {
				t.Fatalf("expected cache to be primed")
			}
			if err := write(); err != nil {
				t.Fatalf("write: %v", err)
			}
			if mr.Exists(currentListKey(mr)) {
				t.Fatalf("expected cache to be invalidated after %s", name)
			}
		})
	}
}

func TestCacheNoOpWritesKeepCache(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	cache := NewCache(&stubBackend{
		listFn: func(context.Context) ([]domain.Task, error) { return []domain.Task{{ID: "t1", Done: true}}, nil },
		markDoneFn: func(context.Context, string) (domain.UpdateAck, error) {
			return domain.UpdateAck{Acknowledged: true, MatchedCount: 1}, nil
		},
		deleteFn: func(context.Context, string) (*domain.Task, error) { return nil, nil },
	}, client, time.Minute)

	if _, err := cache.List(ctx); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if _, err := cache.MarkDone(ctx, "t1"); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if _, err := cache.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !mr.Exists(currentListKey(mr)) {
		t.Fatalf("expected cache to survive no-op writes")
	}
}

func TestCacheFailedWriteKeepsCache(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	boom := errors.New("boom")
	cache := NewCache(&stubBackend{
		listFn: func(context.Context) ([]domain.Task, error) { return []domain.Task{}, nil },
		addFn:  func(context.Context, string) (domain.Task, error) { return domain.Task{}, boom },
	}, client, time.Minute)

	if _, err := cache.List(ctx); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if _, err := cache.Add(ctx, "x"); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !mr.Exists(currentListKey(mr)) {
		t.Fatalf("expected cache to be kept after failed write")
	}
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	var calls int
	cache := NewCache(&stubBackend{
		listFn: func(context.Context) ([]domain.Task, error) {
			calls++
			return []domain.Task{{ID: "t1"}}, nil
		},
	}, client, time.Minute)

	tasks, err := cache.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || calls != 1 {
		t.Fatalf("expected backend result, got %#v after %d calls", tasks, calls)
	}
	if err := cache.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail while redis is down")
	}
}

func TestCacheDropsCorruptEntries(t *testing.T) {
	mr, client := newTestRedis(t)
	if err := mr.Set(listKey(0), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cache := NewCache(&stubBackend{
		listFn: func(context.Context) ([]domain.Task, error) { return []domain.Task{{ID: "fresh"}}, nil },
	}, client, 0)

	tasks, err := cache.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "fresh" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if mr.Exists(currentListKey(mr)) {
		t.Fatalf("expected corrupt entry to be deleted and not re-stored with zero TTL")
	}
}

// slowListBackend blocks the first List after it has taken its snapshot.
type slowListBackend struct {
	*Memory
	once     sync.Once
	snapshot chan struct{}
	release  chan struct{}
}

func (b *slowListBackend) List(ctx context.Context) ([]domain.Task, error) {
	tasks, err := b.Memory.List(ctx)
	b.once.Do(func() {
		close(b.snapshot)
		<-b.release
	})
	return tasks, err
}

func TestCacheSlowListDoesNotHideLaterWrite(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	base := &slowListBackend{
		Memory:   NewMemory(),
		snapshot: make(chan struct{}),
		release:  make(chan struct{}),
	}
	cache := NewCache(base, client, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := cache.List(ctx)
		done <- err
	}()
	<-base.snapshot

	created, err := cache.Add(ctx, "buy milk")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	close(base.release)
	if err := <-done; err != nil {
		t.Fatalf("slow list: %v", err)
	}

	tasks, err := cache.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0] != created {
		t.Fatalf("expected list to contain %+v, got %+v", created, tasks)
	}
}
