package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"todolist/domain"
)

// tasksPartition holds every task; the collection is a flat unordered set.
const tasksPartition = "todos"

// Tables stores tasks as entities in an Azure Storage table. RowKeys are
// time-ordered UUIDv7 values so listing yields insertion order.
type Tables struct {
	table *aztables.Client
}

type taskEntity struct {
	aztables.Entity
	Task string `json:"Task"`
	Done bool   `json:"Done"`
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, table string) (*Tables, error) {
	return newTables(connStr, table, azcore.ClientOptions{
		Retry: policy.RetryOptions{
			MaxRetries:    3,
			TryTimeout:    30 * time.Second,
			RetryDelay:    time.Second,
			MaxRetryDelay: 15 * time.Second,
			StatusCodes:   []int{408, 429, 500, 502, 503, 504},
		},
	})
}

func newTables(connStr, table string, opts azcore.ClientOptions) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &aztables.ClientOptions{ClientOptions: opts})
	if err != nil {
		return nil, fmt.Errorf("table service: %w", err)
	}
	return &Tables{table: svc.NewClient(table)}, nil
}

// Ping checks the account by ensuring the table exists.
func (s *Tables) Ping(ctx context.Context) error {
	return s.EnsureTable(ctx)
}

// EnsureTable creates the table, tolerating an existing one.
func (s *Tables) EnsureTable(ctx context.Context) error {
	_, err := s.table.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (s *Tables) List(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + tasksPartition + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (s *Tables) Add(ctx context.Context, text string) (domain.Task, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := encodeTaskEntity(domain.Task{ID: id.String(), Task: text})
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, fmt.Errorf("add task: %w", err)
	}
	return domain.Task{ID: id.String(), Task: text}, nil
}

func (s *Tables) MarkDone(ctx context.Context, id string) (domain.UpdateAck, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.UpdateAck{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	ack := domain.UpdateAck{Acknowledged: true}
	current, err := s.get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ack, nil
	}
	if err != nil {
		return domain.UpdateAck{}, err
	}
	ack.MatchedCount = 1
	if current.Done {
		return ack, nil
	}

	payload, err := json.Marshal(map[string]any{
		"PartitionKey": tasksPartition,
		"RowKey":       id,
		"Done":         true,
	})
	if err != nil {
		return domain.UpdateAck{}, err
	}
	et := azcore.ETagAny
	_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isNotFound(err) {
		// Deleted between the read and the merge.
		return domain.UpdateAck{Acknowledged: true}, nil
	}
	if err != nil {
		return domain.UpdateAck{}, fmt.Errorf("update task %s: %w", id, err)
	}
	ack.ModifiedCount = 1
	return ack, nil
}

func (s *Tables) Delete(ctx context.Context, id string) (*domain.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	task, err := s.get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.table.DeleteEntity(ctx, tasksPartition, id, nil); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete task %s: %w", id, err)
	}
	return &task, nil
}

func (s *Tables) get(ctx context.Context, id string) (domain.Task, error) {
	ent, err := s.table.GetEntity(ctx, tasksPartition, id, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return decodeTaskEntity(ent.Value)
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, fmt.Errorf("decode task entity: %w", err)
	}
	return domain.Task{ID: ent.RowKey, Task: ent.Task, Done: ent.Done}, nil
}

func encodeTaskEntity(task domain.Task) ([]byte, error) {
	return json.Marshal(taskEntity{
		Entity: aztables.Entity{PartitionKey: tasksPartition, RowKey: task.ID},
		Task:   task.Task,
		Done:   task.Done,
	})
}
