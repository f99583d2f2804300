package mongo

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentcore/core/toolindex"
	"github.com/agentcore/core/toolindex/catalog"
)

// fakeCollection implements the collection seam in memory, supporting the
// filter shapes the catalog actually issues: _id equality, skill_name $in,
// and the $or regex used by SearchDescriptors.
type fakeCollection struct {
	mu   sync.RWMutex
	docs map[string]descriptorDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]descriptorDocument)}
}

var _ collection = (*fakeCollection)(nil)

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	id, _ := filter.(bson.M)["_id"].(string)
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: doc}
}

func (c *fakeCollection) Find(_ context.Context, filter any, _ ...*options.FindOptions) (cursor, error) {
	f, _ := filter.(bson.M)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []descriptorDocument
	for _, doc := range c.docs {
		if matchesFilter(doc, f) {
			out = append(out, doc)
		}
	}
	return &fakeCursor{docs: out, pos: -1}, nil
}

func (c *fakeCollection) ReplaceOne(_ context.Context, filter any, replacement any,
	_ ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error) {
	id, _ := filter.(bson.M)["_id"].(string)
	doc := replacement.(*descriptorDocument)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.docs[id]
	c.docs[id] = *doc
	res := &mongodriver.UpdateResult{}
	if existed {
		res.ModifiedCount = 1
	} else {
		res.UpsertedCount = 1
	}
	return res, nil
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter any, _ ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	id, _ := filter.(bson.M)["_id"].(string)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return &mongodriver.DeleteResult{}, nil
	}
	delete(c.docs, id)
	return &mongodriver.DeleteResult{DeletedCount: 1}, nil
}

func matchesFilter(doc descriptorDocument, f bson.M) bool {
	if len(f) == 0 {
		return true
	}
	if in, ok := f["skill_name"].(bson.M); ok {
		skills, _ := in["$in"].([]string)
		for _, s := range skills {
			if doc.SkillName == s {
				return true
			}
		}
		return false
	}
	if or, ok := f["$or"].([]bson.M); ok {
		for _, clause := range or {
			for field, cond := range clause {
				pattern, _ := cond.(bson.M)["$regex"].(string)
				if pattern == "" {
					continue
				}
				needle := strings.ToLower(pattern)
				switch field {
				case "_id":
					if strings.Contains(strings.ToLower(doc.ToolName), needle) {
						return true
					}
				case "description":
					if strings.Contains(strings.ToLower(doc.Description), needle) {
						return true
					}
				case "category":
					if strings.Contains(strings.ToLower(doc.Category), needle) {
						return true
					}
				case "routing_keywords":
					for _, kw := range doc.RoutingKeywords {
						if strings.Contains(strings.ToLower(kw), needle) {
							return true
						}
					}
				case "intents":
					for _, it := range doc.Intents {
						if strings.Contains(strings.ToLower(it), needle) {
							return true
						}
					}
				}
			}
		}
		return false
	}
	return true
}

type fakeSingleResult struct {
	doc descriptorDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	*val.(*descriptorDocument) = r.doc
	return nil
}

type fakeCursor struct {
	docs []descriptorDocument
	pos  int
}

func (c *fakeCursor) Close(context.Context) error { return nil }
func (c *fakeCursor) Err() error                  { return nil }

func (c *fakeCursor) Next(context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}

func (c *fakeCursor) Decode(val any) error {
	*val.(*descriptorDocument) = c.docs[c.pos]
	return nil
}

func sampleDescriptor() *toolindex.ToolDescriptor {
	return &toolindex.ToolDescriptor{
		ToolName:        "git.smart_commit",
		SkillName:       "git",
		Category:        "vcs",
		Description:     "Commit staged changes with a generated message.",
		RoutingKeywords: []string{"git", "commit"},
		Intents:         []string{"commit my changes"},
		Metadata:        map[string]any{"source": "skills/git"},
	}
}

func TestCatalog_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	c := newWithCollection(newFakeCollection())

	d := sampleDescriptor()
	require.NoError(t, c.SaveDescriptor(ctx, d))

	got, err := c.GetDescriptor(ctx, d.ToolName)
	require.NoError(t, err)
	assert.Equal(t, d.ToolName, got.ToolName)
	assert.Equal(t, d.RoutingKeywords, got.RoutingKeywords)
	assert.Equal(t, d.Metadata, got.Metadata)

	require.NoError(t, c.DeleteDescriptor(ctx, d.ToolName))
	_, err = c.GetDescriptor(ctx, d.ToolName)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.ErrorIs(t, c.DeleteDescriptor(ctx, d.ToolName), catalog.ErrNotFound)
}

func TestCatalog_SaveReplacesExisting(t *testing.T) {
	ctx := context.Background()
	c := newWithCollection(newFakeCollection())

	d := sampleDescriptor()
	require.NoError(t, c.SaveDescriptor(ctx, d))
	d.Description = "Updated."
	require.NoError(t, c.SaveDescriptor(ctx, d))

	got, err := c.GetDescriptor(ctx, d.ToolName)
	require.NoError(t, err)
	assert.Equal(t, "Updated.", got.Description)
}

func TestCatalog_ListFiltersBySkill(t *testing.T) {
	ctx := context.Background()
	c := newWithCollection(newFakeCollection())
	require.NoError(t, c.SaveDescriptor(ctx, sampleDescriptor()))
	require.NoError(t, c.SaveDescriptor(ctx, &toolindex.ToolDescriptor{
		ToolName:  "file.save",
		SkillName: "file",
	}))

	all, err := c.ListDescriptors(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	gitOnly, err := c.ListDescriptors(ctx, []string{"git"})
	require.NoError(t, err)
	require.Len(t, gitOnly, 1)
	assert.Equal(t, "git.smart_commit", gitOnly[0].ToolName)
}

func TestCatalog_Search(t *testing.T) {
	ctx := context.Background()
	c := newWithCollection(newFakeCollection())
	require.NoError(t, c.SaveDescriptor(ctx, sampleDescriptor()))

	hits, err := c.SearchDescriptors(ctx, "commit")
	require.NoError(t, err)
	require.Len(t, hits, 1)

	none, err := c.SearchDescriptors(ctx, "deploy")
	require.NoError(t, err)
	assert.Empty(t, none)
}
