package mongo

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentcore/core/memory"
)

type fakeCollection struct {
	mu           sync.Mutex
	docs         map[string]snapshotDocument
	indexCreated int
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]snapshotDocument)}
}

var _ collection = (*fakeCollection)(nil)

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	table, _ := filter.(bson.M)["table"].(string)
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[table]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: doc}
}

func (c *fakeCollection) ReplaceOne(_ context.Context, filter any, replacement any,
	_ ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error) {
	table, _ := filter.(bson.M)["table"].(string)
	doc := replacement.(*snapshotDocument)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[table] = *doc
	return &mongodriver.UpdateResult{}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{coll: c}
}

type fakeIndexView struct {
	coll *fakeCollection
}

func (v fakeIndexView) CreateOne(context.Context, mongodriver.IndexModel,
	...*options.CreateIndexesOptions) (string, error) {
	v.coll.mu.Lock()
	defer v.coll.mu.Unlock()
	v.coll.indexCreated++
	return "table_1", nil
}

type fakeSingleResult struct {
	doc snapshotDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	*val.(*snapshotDocument) = r.doc
	return nil
}

func mustNewTestBackend(t *testing.T) (*Backend, *fakeCollection) {
	t.Helper()
	coll := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), coll))
	backend, err := newBackendWithCollection(nil, coll, 0)
	require.NoError(t, err)
	return backend, coll
}

func TestEnsureIndexes(t *testing.T) {
	_, coll := mustNewTestBackend(t)
	assert.Equal(t, 1, coll.indexCreated)
}

func TestBackendRoundTrip(t *testing.T) {
	backend, _ := mustNewTestBackend(t)
	ctx := context.Background()

	snap, err := backend.Load(ctx, "episodes")
	require.NoError(t, err)
	require.Nil(t, snap)

	in := &memory.Snapshot{
		Episodes: []*memory.Episode{
			{
				ID:              "a",
				Scope:           "session-a",
				Intent:          "alpha",
				IntentEmbedding: []float32{0.1, 0.2},
				Experience:      "did alpha",
				Outcome:         memory.OutcomeSuccess,
				QValue:          0.8,
				SuccessCount:    2,
				FailureCount:    1,
				CreatedAtMS:     1700000000000,
			},
		},
		QValues: map[string]float32{"a": 0.8, "orphan": 0.2},
	}
	require.NoError(t, backend.Save(ctx, "episodes", in))

	out, err := backend.Load(ctx, "episodes")
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Len(t, out.Episodes, 1)
	assert.Equal(t, in.Episodes[0].ID, out.Episodes[0].ID)
	assert.Equal(t, in.Episodes[0].IntentEmbedding, out.Episodes[0].IntentEmbedding)
	assert.Equal(t, in.Episodes[0].CreatedAtMS, out.Episodes[0].CreatedAtMS)
	assert.InDelta(t, 0.8, float64(out.QValues["a"]), 1e-6)
	assert.InDelta(t, 0.2, float64(out.QValues["orphan"]), 1e-6)
}

func TestBackendSaveReplacesWholesale(t *testing.T) {
	backend, _ := mustNewTestBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, "episodes", &memory.Snapshot{
		Episodes: []*memory.Episode{{ID: "a"}, {ID: "b"}},
		QValues:  map[string]float32{"a": 0.5, "b": 0.5},
	}))
	require.NoError(t, backend.Save(ctx, "episodes", &memory.Snapshot{
		Episodes: []*memory.Episode{{ID: "c"}},
		QValues:  map[string]float32{"c": 0.5},
	}))

	out, err := backend.Load(ctx, "episodes")
	require.NoError(t, err)
	require.Len(t, out.Episodes, 1)
	assert.Equal(t, "c", out.Episodes[0].ID)
}

func TestBackendRequiresTable(t *testing.T) {
	backend, _ := mustNewTestBackend(t)
	require.Error(t, backend.Save(context.Background(), "", &memory.Snapshot{}))
	_, err := backend.Load(context.Background(), "")
	require.Error(t, err)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Client: &mongodriver.Client{}})
	require.Error(t, err)
}
