package events

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todolist/domain"
)

type backend interface {
	List(ctx context.Context) ([]domain.Task, error)
	Add(ctx context.Context, text string) (domain.Task, error)
	MarkDone(ctx context.Context, id string) (domain.UpdateAck, error)
	Delete(ctx context.Context, id string) (*domain.Task, error)
}

// PublishingStore emits a task event after each write that changed the
// collection. Publish failures are logged and never fail the write.
type PublishingStore struct {
	base backend
	pub  Publisher
	log  *log.Logger
}

func NewPublishingStore(base backend, pub Publisher, logger *log.Logger) *PublishingStore {
	if base == nil {
		panic("events.NewPublishingStore: base storage is nil")
	}
	if logger == nil {
		panic("events.NewPublishingStore: logger is nil")
	}
	if pub == nil {
		pub = Nop{}
	}
	return &PublishingStore{base: base, pub: pub, log: logger}
}

func (s *PublishingStore) List(ctx context.Context) ([]domain.Task, error) {
	return s.base.List(ctx)
}

func (s *PublishingStore) Add(ctx context.Context, text string) (domain.Task, error) {
	task, err := s.base.Add(ctx, text)
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(ctx, domain.EventTaskCreated, task.ID, task)
	return task, nil
}

func (s *PublishingStore) MarkDone(ctx context.Context, id string) (domain.UpdateAck, error) {
	ack, err := s.base.MarkDone(ctx, id)
	if err != nil {
		return domain.UpdateAck{}, err
	}
	if ack.ModifiedCount > 0 {
		s.publish(ctx, domain.EventTaskCompleted, id, struct {
			Done bool `json:"done"`
		}{Done: true})
	}
	return ack, nil
}

func (s *PublishingStore) Delete(ctx context.Context, id string) (*domain.Task, error) {
	task, err := s.base.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if task != nil {
		s.publish(ctx, domain.EventTaskDeleted, task.ID, task)
	}
	return task, nil
}

func (s *PublishingStore) publish(ctx context.Context, typ, entityID string, data any) {
	ev, err := newTaskEvent(typ, entityID, data)
	if err == nil {
		err = s.pub.Publish(ctx, ev)
	}
	if err != nil {
		s.log.WithError(err).WithFields(log.Fields{
			"event_type": typ,
			"entity_id":  entityID,
		}).Error("task event dropped")
	}
}

func newTaskEvent(typ, entityID string, data any) (domain.TaskEvent, error) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return domain.TaskEvent{}, err
	}
	return domain.TaskEvent{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: domain.EntityTypeTask,
		Type:       typ,
		Data:       raw,
		Time:       eventClock.next(),
	}, nil
}
