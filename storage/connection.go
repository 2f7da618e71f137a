package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is the connectivity of the storage backend as seen by this process.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PingFunc verifies that the backend is reachable.
type PingFunc func(ctx context.Context) error

// Connection tracks the process-wide storage connection. It is created once
// at startup, established once through Establish and afterwards only follows
// the notifications the driver reports.
type Connection struct {
	policy RetryPolicy
	logger *log.Logger
	sleep  func(context.Context, time.Duration) error

	state    atomic.Int32
	attempts atomic.Int64

	once   sync.Once
	result error

	mu      sync.Mutex
	servers map[string]bool
}

// NewConnection returns a Connection in the connecting state.
func NewConnection(policy RetryPolicy, logger *log.Logger) *Connection {
	if policy == nil {
		policy = ConstantBackoff{Delay: 5 * time.Second}
	}
	if logger == nil {
		panic("storage.NewConnection: logger is nil")
	}
	c := &Connection{
		policy:  policy,
		logger:  logger,
		sleep:   sleepContext,
		servers: make(map[string]bool),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State reports the current connection state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Connected reports whether the backend is currently reachable.
func (c *Connection) Connected() bool {
	return c.State() == StateConnected
}

// Attempts reports how many establishment attempts have run.
func (c *Connection) Attempts() int64 {
	return c.attempts.Load()
}

// Establish pings the backend until it answers or the retry policy gives up.
// Only the first call does any work; later calls return the first result.
func (c *Connection) Establish(ctx context.Context, ping PingFunc) error {
	c.once.Do(func() {
		c.result = c.establish(ctx, ping)
	})
	return c.result
}

func (c *Connection) establish(ctx context.Context, ping PingFunc) error {
	for attempt := 1; ; attempt++ {
		c.attempts.Add(1)
		err := ping(ctx)
		if err == nil {
			c.state.Store(int32(StateConnected))
			c.logger.WithField("attempt", attempt).Info("storage connected")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.state.Store(int32(StateDisconnected))

		delay, retry := c.policy.Backoff(attempt)
		entry := c.logger.WithError(err).WithField("attempt", attempt)
		if !retry {
			entry.Error("storage connection failed, giving up")
			return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
		}
		entry.WithField("retry_in", delay.String()).Warn("storage connection failed")

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// ServerUp records a successful heartbeat from addr.
func (c *Connection) ServerUp(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[addr] = true
	if c.State() == StateDisconnected {
		c.logger.WithField("server", addr).Info("storage reconnected")
		c.state.Store(int32(StateConnected))
	}
}

// ServerDown records a failed heartbeat from addr. The connection becomes
// disconnected once no known server is reachable.
func (c *Connection) ServerDown(addr string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.logger.WithField("server", addr)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error("storage connection error")

	c.servers[addr] = false
	for _, up := range c.servers {
		if up {
			return
		}
	}
	if c.State() == StateConnected {
		entry.Warn("storage disconnected")
		c.state.Store(int32(StateDisconnected))
	}
}

// ServerRemoved forgets addr after the driver stopped monitoring it.
func (c *Connection) ServerRemoved(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.servers, addr)
}

// Watch pings the backend every interval and feeds the result into the
// connection state under the given name. It is meant for backends without a
// driver heartbeat and returns when ctx ends.
func (c *Connection) Watch(ctx context.Context, name string, ping PingFunc, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := ping(pingCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.ServerDown(name, err)
			continue
		}
		c.ServerUp(name)
	}
}
