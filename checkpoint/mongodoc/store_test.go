package mongodoc

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/amelia-dev/amelia/checkpoint"
)

// fakeCollection is an in-memory stand-in for the real Mongo collection,
// grounded on the teacher's own pattern of hiding the driver behind a small
// interface purely so tests don't need a live server.
type fakeCollection struct {
	docs []checkpointDocument
}

func (f *fakeCollection) InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error) {
	doc, ok := document.(checkpointDocument)
	if !ok {
		return nil, errors.New("unexpected document type")
	}
	f.docs = append(f.docs, doc)
	return &mongodriver.InsertOneResult{}, nil
}

func (f *fakeCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	m, _ := filter.(bson.M)
	threadID, _ := m["thread_id"].(string)
	var matches []checkpointDocument
	for _, d := range f.docs {
		if d.ThreadID == threadID {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return fakeSingleResult{doc: matches[0]}
}

func (f *fakeCollection) DeleteMany(ctx context.Context, filter any) (*mongodriver.DeleteResult, error) {
	m, _ := filter.(bson.M)
	threadID, _ := m["thread_id"].(string)
	var kept []checkpointDocument
	var deleted int64
	for _, d := range f.docs {
		if d.ThreadID == threadID {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	f.docs = kept
	return &mongodriver.DeleteResult{DeletedCount: deleted}, nil
}

func (f *fakeCollection) Indexes() indexView { return fakeIndexView{} }

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return "idx", nil
}

type fakeSingleResult struct {
	doc checkpointDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	ptr, ok := val.(*checkpointDocument)
	if !ok {
		return errors.New("unexpected decode target")
	}
	*ptr = r.doc
	return nil
}

func newTestStore() (*Store, *fakeCollection) {
	coll := &fakeCollection{}
	return &Store{coll: coll, timeout: time.Second}, coll
}

func TestStore_SaveAndLoadLatest(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()

	older := checkpoint.Checkpoint{ThreadID: "wf-1", CheckpointID: "c1", CreatedAt: time.Now().Add(-time.Minute), NextNode: "architect_node"}
	newer := checkpoint.Checkpoint{ThreadID: "wf-1", CheckpointID: "c2", CreatedAt: time.Now(), NextNode: "developer_node"}

	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	got, err := store.LoadLatest(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, "c2", got.CheckpointID)
	require.Equal(t, "developer_node", got.NextNode)
}

func TestStore_LoadLatest_NotFound(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	_, err := store.LoadLatest(context.Background(), "missing")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestStore_DeleteAll(t *testing.T) {
	t.Parallel()

	store, coll := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ThreadID: "wf-1", CheckpointID: "c1", CreatedAt: time.Now()}))
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{ThreadID: "wf-2", CheckpointID: "c2", CreatedAt: time.Now()}))

	require.NoError(t, store.DeleteAll(ctx, "wf-1"))
	require.Len(t, coll.docs, 1)
	require.Equal(t, "wf-2", coll.docs[0].ThreadID)
}
