// Package replicated provides a replicated-map backed implementation of the
// tool catalog.
//
// The catalog persists tool descriptors in a Pulse replicated map (rmap),
// which is backed by Redis. This makes descriptors durable across process
// restarts and visible to all nodes in a multi-node deployment without a
// shared database.
package replicated

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/agentcore/core/toolindex"
	"github.com/agentcore/core/toolindex/catalog"
)

type (
	// Map is the minimal replicated-map contract required by the replicated
	// catalog.
	//
	// Map is satisfied by `*rmap.Map` from `goa.design/pulse/rmap`.
	// It is defined here to:
	//   - keep the replicated catalog unit-testable without Redis, and
	//   - avoid coupling callers to a concrete Pulse implementation.
	//
	// Implementations must be safe for concurrent use.
	Map interface {
		Delete(ctx context.Context, key string) (string, error)
		Get(key string) (string, bool)
		Keys() []string
		Set(ctx context.Context, key, value string) (string, error)
	}

	// Catalog persists tool descriptors in a replicated map. It is safe for
	// concurrent use when backed by a concurrent-safe map (such as rmap.Map).
	Catalog struct {
		m Map
	}
)

const descriptorKeyPrefix = "toolindex:descriptor:"

// New creates a new replicated catalog backed by the given map.
func New(m Map) *Catalog {
	return &Catalog{m: m}
}

// Join joins the named replicated map on the given Redis connection and
// returns a catalog backed by it. The map is replicated to every node that
// joins the same name on the same Redis deployment.
func Join(ctx context.Context, name string, rdb *redis.Client) (*Catalog, error) {
	m, err := rmap.Join(ctx, name, rdb)
	if err != nil {
		return nil, fmt.Errorf("join replicated map %q: %w", name, err)
	}
	return New(m), nil
}

// Compile-time check that Catalog implements catalog.Catalog.
var _ catalog.Catalog = (*Catalog)(nil)

// SaveDescriptor stores or updates a descriptor.
func (c *Catalog) SaveDescriptor(ctx context.Context, d *toolindex.ToolDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := toolindex.ValidateToolName(d.ToolName, d.SkillName); err != nil {
		return err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor %q: %w", d.ToolName, err)
	}
	if _, err := c.m.Set(ctx, descriptorKey(d.ToolName), string(b)); err != nil {
		return fmt.Errorf("store descriptor %q: %w", d.ToolName, err)
	}
	return nil
}

// GetDescriptor retrieves a descriptor by tool name.
func (c *Catalog) GetDescriptor(ctx context.Context, toolName string) (*toolindex.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, ok := c.m.Get(descriptorKey(toolName))
	if !ok {
		return nil, catalog.ErrNotFound
	}
	var d toolindex.ToolDescriptor
	if err := json.Unmarshal([]byte(val), &d); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor %q: %w", toolName, err)
	}
	return &d, nil
}

// DeleteDescriptor removes a descriptor by tool name.
func (c *Catalog) DeleteDescriptor(ctx context.Context, toolName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := descriptorKey(toolName)
	if _, ok := c.m.Get(key); !ok {
		return catalog.ErrNotFound
	}
	if _, err := c.m.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete descriptor %q: %w", toolName, err)
	}
	return nil
}

// ListDescriptors returns all descriptors, optionally filtered by skill names.
func (c *Catalog) ListDescriptors(ctx context.Context, skills []string) ([]*toolindex.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys := c.m.Keys()
	out := make([]*toolindex.ToolDescriptor, 0)
	for _, k := range keys {
		if !strings.HasPrefix(k, descriptorKeyPrefix) {
			continue
		}
		name := strings.TrimPrefix(k, descriptorKeyPrefix)
		d, err := c.GetDescriptor(ctx, name)
		if err != nil {
			return nil, err
		}
		if catalog.MatchesSkills(d.SkillName, skills) {
			out = append(out, d)
		}
	}
	return out, nil
}

// SearchDescriptors searches descriptors by query string.
func (c *Catalog) SearchDescriptors(ctx context.Context, query string) ([]*toolindex.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lowerQuery := strings.ToLower(query)
	keys := c.m.Keys()
	out := make([]*toolindex.ToolDescriptor, 0)
	for _, k := range keys {
		if !strings.HasPrefix(k, descriptorKeyPrefix) {
			continue
		}
		name := strings.TrimPrefix(k, descriptorKeyPrefix)
		d, err := c.GetDescriptor(ctx, name)
		if err != nil {
			return nil, err
		}
		if matchesQuery(d, lowerQuery) {
			out = append(out, d)
		}
	}
	return out, nil
}

func descriptorKey(name string) string {
	return descriptorKeyPrefix + name
}

func matchesQuery(d *toolindex.ToolDescriptor, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(d.ToolName), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(d.Description), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(d.Category), lowerQuery) {
		return true
	}
	for _, kw := range d.RoutingKeywords {
		if strings.Contains(strings.ToLower(kw), lowerQuery) {
			return true
		}
	}
	for _, intent := range d.Intents {
		if strings.Contains(strings.ToLower(intent), lowerQuery) {
			return true
		}
	}
	return false
}
