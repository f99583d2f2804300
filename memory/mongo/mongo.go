// Package mongo implements a MongoDB-backed snapshot backend for the
// episodic memory store. Each table's snapshot lives in a single document
// replaced wholesale on save, so a concurrent load never observes a
// partial write.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/agentcore/core/memory"
)

const (
	defaultCollection = "memory_snapshots"
	defaultTimeout    = 5 * time.Second
	backendName       = "memory-mongo"
)

// Backend persists memory snapshots to MongoDB. It implements
// memory.SnapshotBackend and the clue health-check contract.
type Backend struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// Compile-time check that Backend implements memory.SnapshotBackend.
var _ memory.SnapshotBackend = (*Backend)(nil)

// Compile-time check that Backend implements health.Pinger.
var _ health.Pinger = (*Backend)(nil)

// Options configures the Mongo snapshot backend.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// New returns a Backend using the provided MongoDB client.
func New(opts Options) (*Backend, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newBackendWithCollection(opts.Client, wrapper, timeout)
}

// Name implements health.Pinger.
func (b *Backend) Name() string {
	return backendName
}

// Ping implements health.Pinger.
func (b *Backend) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return b.mongo.Ping(ctx, readpref.Primary())
}

// Save implements memory.SnapshotBackend: the table's document is replaced
// wholesale with an upsert.
func (b *Backend) Save(ctx context.Context, table string, snap *memory.Snapshot) error {
	if table == "" {
		return errors.New("table is required")
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	doc := toDocument(table, snap, time.Now().UTC())
	filter := bson.M{"table": table}
	_, err := b.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

// Load implements memory.SnapshotBackend.
func (b *Backend) Load(ctx context.Context, table string) (*memory.Snapshot, error) {
	if table == "" {
		return nil, errors.New("table is required")
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var doc snapshotDocument
	if err := b.coll.FindOne(ctx, bson.M{"table": table}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return fromDocument(&doc), nil
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

type snapshotDocument struct {
	Table     string             `bson:"table"`
	Episodes  []episodeDocument  `bson:"episodes"`
	QValues   map[string]float64 `bson:"q_values"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type episodeDocument struct {
	ID              string    `bson:"id"`
	Scope           string    `bson:"scope"`
	Intent          string    `bson:"intent,omitempty"`
	IntentEmbedding []float32 `bson:"intent_embedding,omitempty"`
	Experience      string    `bson:"experience,omitempty"`
	Outcome         string    `bson:"outcome,omitempty"`
	QValue          float64   `bson:"q_value"`
	SuccessCount    int       `bson:"success_count"`
	FailureCount    int       `bson:"failure_count"`
	CreatedAtMS     int64     `bson:"created_at_ms"`
}

func toDocument(table string, snap *memory.Snapshot, now time.Time) *snapshotDocument {
	episodes := make([]episodeDocument, len(snap.Episodes))
	for i, e := range snap.Episodes {
		episodes[i] = episodeDocument{
			ID:              e.ID,
			Scope:           e.Scope,
			Intent:          e.Intent,
			IntentEmbedding: e.IntentEmbedding,
			Experience:      e.Experience,
			Outcome:         e.Outcome,
			QValue:          e.QValue,
			SuccessCount:    e.SuccessCount,
			FailureCount:    e.FailureCount,
			CreatedAtMS:     e.CreatedAtMS,
		}
	}
	// BSON maps have no float32 representation; widen for storage.
	qvals := make(map[string]float64, len(snap.QValues))
	for k, v := range snap.QValues {
		qvals[k] = float64(v)
	}
	return &snapshotDocument{
		Table:     table,
		Episodes:  episodes,
		QValues:   qvals,
		UpdatedAt: now,
	}
}

func fromDocument(doc *snapshotDocument) *memory.Snapshot {
	episodes := make([]*memory.Episode, len(doc.Episodes))
	for i, e := range doc.Episodes {
		episodes[i] = &memory.Episode{
			ID:              e.ID,
			Scope:           e.Scope,
			Intent:          e.Intent,
			IntentEmbedding: e.IntentEmbedding,
			Experience:      e.Experience,
			Outcome:         e.Outcome,
			QValue:          e.QValue,
			SuccessCount:    e.SuccessCount,
			FailureCount:    e.FailureCount,
			CreatedAtMS:     e.CreatedAtMS,
		}
	}
	qvals := make(map[string]float32, len(doc.QValues))
	for k, v := range doc.QValues {
		qvals[k] = float32(v)
	}
	return &memory.Snapshot{Episodes: episodes, QValues: qvals}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "table", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newBackendWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*Backend, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Backend{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	ReplaceOne(ctx context.Context, filter any, replacement any,
		opts ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, replacement any,
	opts ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
