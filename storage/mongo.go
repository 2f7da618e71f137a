package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"todolist/domain"
)

const (
	defaultDatabase     = "TodoList"
	namespaceExistsCode = 48
)

// MongoOptions configures the MongoDB client.
type MongoOptions struct {
	URI                    string
	Collection             string
	ServerSelectionTimeout time.Duration
	SocketTimeout          time.Duration
}

// Mongo stores tasks as documents in a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	tasks  *mongo.Collection
}

type taskDocument struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	Task string             `bson:"task"`
	Done bool               `bson:"done"`
}

func (d taskDocument) toDomain() domain.Task {
	return domain.Task{ID: d.ID.Hex(), Task: d.Task, Done: d.Done}
}

// OpenMongo creates the MongoDB client. The driver connects in the
// background, so OpenMongo only fails on unusable options; reachability is
// established through Ping. When conn is not nil the driver's heartbeat
// notifications are forwarded to it.
func OpenMongo(ctx context.Context, opts MongoOptions, conn *Connection) (*Mongo, error) {
	cs, err := connstring.ParseAndValidate(opts.URI)
	if err != nil {
		return nil, fmt.Errorf("parse mongo uri: %w", err)
	}
	dbName := cs.Database
	if dbName == "" {
		dbName = defaultDatabase
	}

	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.ServerSelectionTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(opts.ServerSelectionTimeout)
	}
	if opts.SocketTimeout > 0 {
		clientOpts.SetSocketTimeout(opts.SocketTimeout)
	}
	if conn != nil {
		clientOpts.SetServerMonitor(serverMonitor(conn))
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return &Mongo{client: client, tasks: client.Database(dbName).Collection(opts.Collection)}, nil
}

// NewMongo wraps an existing collection.
func NewMongo(coll *mongo.Collection) *Mongo {
	return &Mongo{client: coll.Database().Client(), tasks: coll}
}

func serverMonitor(conn *Connection) *event.ServerMonitor {
	return &event.ServerMonitor{
		ServerHeartbeatSucceeded: func(e *event.ServerHeartbeatSucceededEvent) {
			conn.ServerUp(serverAddr(e.ConnectionID))
		},
		ServerHeartbeatFailed: func(e *event.ServerHeartbeatFailedEvent) {
			conn.ServerDown(serverAddr(e.ConnectionID), e.Failure)
		},
		ServerClosed: func(e *event.ServerClosedEvent) {
			conn.ServerRemoved(e.Address.String())
		},
	}
}

// serverAddr strips the "[-N]" connection counter the driver appends to
// heartbeat connection ids.
func serverAddr(connectionID string) string {
	if i := strings.LastIndex(connectionID, "["); i > 0 {
		return connectionID[:i]
	}
	return connectionID
}

// Ping checks that a primary is reachable within the server selection timeout.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Collection exposes the underlying collection for provisioning.
func (m *Mongo) Collection() *mongo.Collection {
	return m.tasks
}

func (m *Mongo) List(ctx context.Context) ([]domain.Task, error) {
	cur, err := m.tasks.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	var docs []taskDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	tasks := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		tasks = append(tasks, d.toDomain())
	}
	return tasks, nil
}

func (m *Mongo) Add(ctx context.Context, text string) (domain.Task, error) {
	doc := taskDocument{ID: primitive.NewObjectID(), Task: text}
	if _, err := m.tasks.InsertOne(ctx, doc); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return doc.toDomain(), nil
}

func (m *Mongo) MarkDone(ctx context.Context, id string) (domain.UpdateAck, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return domain.UpdateAck{}, err
	}
	res, err := m.tasks.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "done", Value: true}}}},
	)
	if err != nil {
		return domain.UpdateAck{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return domain.UpdateAck{
		Acknowledged:  true,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
	}, nil
}

func (m *Mongo) Delete(ctx context.Context, id string) (*domain.Task, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, err
	}
	var doc taskDocument
	err = m.tasks.FindOneAndDelete(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete task %s: %w", id, err)
	}
	task := doc.toDomain()
	return &task, nil
}

func parseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return oid, nil
}

// EnsureCollection creates the tasks collection, tolerating an existing one.
func (m *Mongo) EnsureCollection(ctx context.Context) error {
	err := m.tasks.Database().CreateCollection(ctx, m.tasks.Name())
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == namespaceExistsCode || cmdErr.Name == "NamespaceExists") {
		return nil
	}
	return err
}
