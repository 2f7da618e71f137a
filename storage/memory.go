package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"todolist/domain"
)

// Memory is an in-process task store. Tasks are kept in insertion order.
type Memory struct {
	mu    sync.RWMutex
	tasks []domain.Task
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) List(ctx context.Context) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Task, len(m.tasks))
	copy(out, m.tasks)
	return out, nil
}

func (m *Memory) Add(ctx context.Context, text string) (domain.Task, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{ID: id.String(), Task: text}
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
	return task, nil
}

func (m *Memory) MarkDone(ctx context.Context, id string) (domain.UpdateAck, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.UpdateAck{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ack := domain.UpdateAck{Acknowledged: true}
	for i := range m.tasks {
		if m.tasks[i].ID != id {
			continue
		}
		ack.MatchedCount = 1
		if !m.tasks[i].Done {
			m.tasks[i].Done = true
			ack.ModifiedCount = 1
		}
		break
	}
	return ack, nil
}

func (m *Memory) Delete(ctx context.Context, id string) (*domain.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			task := m.tasks[i]
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return &task, nil
		}
	}
	return nil, nil
}
