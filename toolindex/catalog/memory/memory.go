// Package memory provides an in-memory implementation of the tool catalog.
//
// This implementation is suitable for development, testing, and single-node
// deployments where persistence across restarts is not required.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/agentcore/core/toolindex"
	"github.com/agentcore/core/toolindex/catalog"
)

// Catalog is an in-memory implementation of the catalog.Catalog interface.
// It is safe for concurrent use.
type Catalog struct {
	mu          sync.RWMutex
	descriptors map[string]*toolindex.ToolDescriptor
	order       []string
}

// Compile-time check that Catalog implements catalog.Catalog.
var _ catalog.Catalog = (*Catalog)(nil)

// New creates a new in-memory catalog.
func New() *Catalog {
	return &Catalog{
		descriptors: make(map[string]*toolindex.ToolDescriptor),
	}
}

// SaveDescriptor stores or updates a descriptor.
func (c *Catalog) SaveDescriptor(ctx context.Context, d *toolindex.ToolDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := toolindex.ValidateToolName(d.ToolName, d.SkillName); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.descriptors[d.ToolName]; !ok {
		c.order = append(c.order, d.ToolName)
	}
	c.descriptors[d.ToolName] = d
	return nil
}

// GetDescriptor retrieves a descriptor by tool name.
func (c *Catalog) GetDescriptor(ctx context.Context, toolName string) (*toolindex.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.descriptors[toolName]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return d, nil
}

// DeleteDescriptor removes a descriptor by tool name.
func (c *Catalog) DeleteDescriptor(ctx context.Context, toolName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.descriptors[toolName]; !ok {
		return catalog.ErrNotFound
	}
	delete(c.descriptors, toolName)
	for i, name := range c.order {
		if name == toolName {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListDescriptors returns all descriptors, optionally filtered by skill names.
func (c *Catalog) ListDescriptors(ctx context.Context, skills []string) ([]*toolindex.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*toolindex.ToolDescriptor, 0, len(c.order))
	for _, name := range c.order {
		d := c.descriptors[name]
		if catalog.MatchesSkills(d.SkillName, skills) {
			result = append(result, d)
		}
	}
	return result, nil
}

// SearchDescriptors searches descriptors by query string.
func (c *Catalog) SearchDescriptors(ctx context.Context, query string) ([]*toolindex.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	lowerQuery := strings.ToLower(query)
	result := make([]*toolindex.ToolDescriptor, 0)
	for _, name := range c.order {
		d := c.descriptors[name]
		if matchesQuery(d, lowerQuery) {
			result = append(result, d)
		}
	}
	return result, nil
}

// matchesQuery returns true if the query matches the descriptor's tool name,
// description, category, routing keywords, or intents (case-insensitive).
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
