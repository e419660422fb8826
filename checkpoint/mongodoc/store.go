// Package mongodoc implements checkpoint.Store against MongoDB, grounded on
// the teacher's features/run/mongo session store: a thin client wrapping a
// single collection behind a narrow interface so the real driver types never
// leak into unit tests.
package mongodoc

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/amelia-dev/amelia/checkpoint"
)

const (
	defaultCollection = "checkpoints"
	defaultOpTimeout   = 5 * time.Second
)

// Options configures the Mongo-backed checkpoint store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements checkpoint.Store by delegating to a MongoDB collection.
// Each Save inserts a new, immutable document; checkpoints are never updated
// in place (spec.md §4.3 "Checkpoints are immutable; each transition
// produces a new one").
type Store struct {
	coll    collection
	timeout time.Duration
}

// New constructs a Store and ensures its supporting indexes exist.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongodoc: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongodoc: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	wrapper := mongoCollection{coll: mcoll}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &Store{coll: wrapper, timeout: timeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Save inserts cp as a new document.
func (s *Store) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	if cp.ThreadID == "" || cp.CheckpointID == "" {
		return errors.New("mongodoc: thread id and checkpoint id are required")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := fromCheckpoint(cp)
	_, err := s.coll.InsertOne(ctx, doc)
	return err
}

// LoadLatest returns the checkpoint with the highest created_at for
// threadID.
func (s *Store) LoadLatest(ctx context.Context, threadID string) (checkpoint.Checkpoint, error) {
	if threadID == "" {
		return checkpoint.Checkpoint{}, errors.New("mongodoc: thread id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"thread_id": threadID}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc checkpointDocument
	if err := s.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}
		return checkpoint.Checkpoint{}, err
	}
	return doc.toCheckpoint(), nil
}

// DeleteAll removes every checkpoint for threadID (spec.md §4.3
// "purge_checkpoints").
func (s *Store) DeleteAll(ctx context.Context, threadID string) error {
	if threadID == "" {
		return errors.New("mongodoc: thread id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteMany(ctx, bson.M{"thread_id": threadID})
	return err
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: -1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}
