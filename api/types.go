package api

import (
	"context"

	"todolist/domain"
	"todolist/storage"
)

// Storage is the task collection the routes operate on.
type Storage interface {
	List(ctx context.Context) ([]domain.Task, error)
	Add(ctx context.Context, text string) (domain.Task, error)
	MarkDone(ctx context.Context, id string) (domain.UpdateAck, error)
	Delete(ctx context.Context, id string) (*domain.Task, error)
}

// ConnectionState reports the storage connection state for the health check.
type ConnectionState interface {
	State() storage.State
}

// Pinger checks an optional dependency such as the list cache.
type Pinger interface {
	Ping(ctx context.Context) error
}
