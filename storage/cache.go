package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"todolist/domain"
)

// The cached list lives under tasksListPrefix plus the current generation.
// Writes bump the generation instead of deleting the list, so a slow reader
// can only fill a generation nobody reads anymore.
const (
	tasksGenKey     = "todos:gen"
	tasksListPrefix = "todos:all:"
)

type backend interface {
	List(ctx context.Context) ([]domain.Task, error)
	Add(ctx context.Context, text string) (domain.Task, error)
	MarkDone(ctx context.Context, id string) (domain.UpdateAck, error)
	Delete(ctx context.Context, id string) (*domain.Task, error)
}

// Cache wraps a backend with a Redis-backed copy of the task list. Every
// successful write that changes the list invalidates the cached copy.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return errors.New("redis client is nil")
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Cache) List(ctx context.Context) ([]domain.Task, error) {
	gen, ok := c.generation(ctx)
	if !ok {
		return c.base.List(ctx)
	}
	key := listKey(gen)
	if tasks, hit := c.cached(ctx, key); hit {
		return tasks, nil
	}

	tasks, err := c.base.List(ctx)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, tasks)
	return tasks, nil
}

func (c *Cache) Add(ctx context.Context, text string) (domain.Task, error) {
	task, err := c.base.Add(ctx, text)
	if err != nil {
		return domain.Task{}, err
	}
	c.invalidate(ctx)
	return task, nil
}

func (c *Cache) MarkDone(ctx context.Context, id string) (domain.UpdateAck, error) {
	ack, err := c.base.MarkDone(ctx, id)
	if err != nil {
		return domain.UpdateAck{}, err
	}
	if ack.ModifiedCount > 0 {
		c.invalidate(ctx)
	}
	return ack, nil
}

func (c *Cache) Delete(ctx context.Context, id string) (*domain.Task, error) {
	task, err := c.base.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if task != nil {
		c.invalidate(ctx)
	}
	return task, nil
}

func listKey(gen int64) string {
	return tasksListPrefix + strconv.FormatInt(gen, 10)
}

// generation reports false when Redis cannot be used, in which case the
// caller goes straight to the backend.
func (c *Cache) generation(ctx context.Context) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, tasksGenKey).Int64()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		return 0, false
	}
}

func (c *Cache) cached(ctx context.Context, key string) ([]domain.Task, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

func (c *Cache) fill(ctx context.Context, key string, tasks []domain.Task) {
	if c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// invalidate moves readers to the next generation. Lists cached under older
// generations expire with their TTL.
func (c *Cache) invalidate(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, tasksGenKey).Err()
}
