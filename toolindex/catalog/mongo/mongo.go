// Package mongo provides a MongoDB implementation of the tool catalog.
//
// This implementation persists tool descriptors to MongoDB for durability
// across restarts, suitable for production deployments.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentcore/core/toolindex"
	"github.com/agentcore/core/toolindex/catalog"
)

// Catalog is a MongoDB implementation of the catalog.Catalog interface.
// It persists tool descriptors to MongoDB for durability across restarts.
type Catalog struct {
	collection collection
}

// Compile-time check that Catalog implements catalog.Catalog.
var _ catalog.Catalog = (*Catalog)(nil)

// descriptorDocument is the MongoDB document representation of a
// ToolDescriptor.
type descriptorDocument struct {
	ToolName        string    `bson:"_id"`
	SkillName       string    `bson:"skill_name"`
	Category        string    `bson:"category,omitempty"`
	Description     string    `bson:"description,omitempty"`
	FilePath        string    `bson:"file_path,omitempty"`
	RoutingKeywords []string  `bson:"routing_keywords,omitempty"`
	Intents         []string  `bson:"intents,omitempty"`
	InputSchema     []byte    `bson:"input_schema,omitempty"`
	Embedding       []float32 `bson:"embedding,omitempty"`
	Metadata        string    `bson:"metadata,omitempty"`
}

// New creates a new MongoDB catalog using the provided collection.
// The collection should be from a connected MongoDB client.
func New(coll *mongo.Collection) *Catalog {
	return &Catalog{collection: mongoCollection{coll: coll}}
}

// newWithCollection is the seam used by tests to inject a fake collection.
func newWithCollection(coll collection) *Catalog {
	return &Catalog{collection: coll}
}

// SaveDescriptor stores or updates a descriptor in MongoDB.
func (c *Catalog) SaveDescriptor(ctx context.Context, d *toolindex.ToolDescriptor) error {
	if err := toolindex.ValidateToolName(d.ToolName, d.SkillName); err != nil {
		return err
	}
	doc, err := toDocument(d)
	if err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := c.collection.ReplaceOne(ctx, bson.M{"_id": d.ToolName}, doc, opts); err != nil {
		return fmt.Errorf("mongodb save descriptor %q: %w", d.ToolName, err)
	}
	return nil
}

// GetDescriptor retrieves a descriptor by tool name from MongoDB.
func (c *Catalog) GetDescriptor(ctx context.Context, toolName string) (*toolindex.ToolDescriptor, error) {
	var doc descriptorDocument
	err := c.collection.FindOne(ctx, bson.M{"_id": toolName}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get descriptor %q: %w", toolName, err)
	}
	return fromDocument(&doc)
}

// DeleteDescriptor removes a descriptor by tool name from MongoDB.
func (c *Catalog) DeleteDescriptor(ctx context.Context, toolName string) error {
	result, err := c.collection.DeleteOne(ctx, bson.M{"_id": toolName})
	if err != nil {
		return fmt.Errorf("mongodb delete descriptor %q: %w", toolName, err)
	}
	if result.DeletedCount == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// ListDescriptors returns all descriptors from MongoDB, optionally filtered
// by skill names.
func (c *Catalog) ListDescriptors(ctx context.Context, skills []string) ([]*toolindex.ToolDescriptor, error) {
	filter := bson.M{}
	if len(skills) > 0 {
		filter["skill_name"] = bson.M{"$in": skills}
	}

	cursor, err := c.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb list descriptors: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	return decodeAll(ctx, cursor, "list")
}

// SearchDescriptors searches descriptors by query string in MongoDB.
// The query is matched against tool name, description, category, routing
// keywords, and intents (case-insensitive).
func (c *Catalog) SearchDescriptors(ctx context.Context, query string) ([]*toolindex.ToolDescriptor, error) {
	escapedQuery := escapeRegex(query)
	regex := bson.M{"$regex": escapedQuery, "$options": "i"}
	filter := bson.M{
		"$or": []bson.M{
			{"_id": regex},
			{"description": regex},
			{"category": regex},
			{"routing_keywords": regex},
			{"intents": regex},
		},
	}

	cursor, err := c.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb search descriptors: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	return decodeAll(ctx, cursor, "search")
}

func decodeAll(ctx context.Context, cur cursor, op string) ([]*toolindex.ToolDescriptor, error) {
	result := make([]*toolindex.ToolDescriptor, 0)
	for cur.Next(ctx) {
		var doc descriptorDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodb %s descriptors decode: %w", op, err)
		}
		d, err := fromDocument(&doc)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongodb %s descriptors: %w", op, err)
	}
	return result, nil
}

// toDocument converts a ToolDescriptor to a MongoDB document.
func toDocument(d *toolindex.ToolDescriptor) (*descriptorDocument, error) {
	var metadata string
	if len(d.Metadata) > 0 {
		b, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal descriptor %q metadata: %w", d.ToolName, err)
		}
		metadata = string(b)
	}
	return &descriptorDocument{
		ToolName:        d.ToolName,
		SkillName:       d.SkillName,
		Category:        d.Category,
		Description:     d.Description,
		FilePath:        d.FilePath,
		RoutingKeywords: d.RoutingKeywords,
		Intents:         d.Intents,
		InputSchema:     d.InputSchema,
		Embedding:       d.Embedding,
		Metadata:        metadata,
	}, nil
}

// fromDocument converts a MongoDB document to a ToolDescriptor.
func fromDocument(doc *descriptorDocument) (*toolindex.ToolDescriptor, error) {
	var metadata map[string]any
	if doc.Metadata != "" {
		if err := json.Unmarshal([]byte(doc.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal descriptor %q metadata: %w", doc.ToolName, err)
		}
	}
	return &toolindex.ToolDescriptor{
		ToolName:        doc.ToolName,
		SkillName:       doc.SkillName,
		Category:        doc.Category,
		Description:     doc.Description,
		FilePath:        doc.FilePath,
		RoutingKeywords: doc.RoutingKeywords,
		Intents:         doc.Intents,
		InputSchema:     doc.InputSchema,
		Embedding:       doc.Embedding,
		Metadata:        metadata,
	}, nil
}

// escapeRegex escapes special regex characters for safe use in MongoDB regex
// queries.
func escapeRegex(s string) string {
	special := []string{"\\", ".", "+", "*", "?", "^", "$", "(", ")", "[", "]", "{", "}", "|"}
	result := s
	for _, char := range special {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}
	return result
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	ReplaceOne(ctx context.Context, filter any, replacement any,
		opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, replacement any,
	opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

type mongoSingleResult struct {
	res *mongo.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoCursor struct {
	cur *mongo.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
func (c mongoCursor) Decode(val any) error            { return c.cur.Decode(val) }
func (c mongoCursor) Err() error                      { return c.cur.Err() }
func (c mongoCursor) Next(ctx context.Context) bool   { return c.cur.Next(ctx) }
