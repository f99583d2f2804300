// Package catalog defines the system-of-record persistence layer for tool
// descriptors, independent of the search-optimized columnar projection held
// by the tool index.
//
// The Catalog interface abstracts descriptor storage, allowing different
// backend implementations. Available implementations:
//
//   - memory: In-memory catalog for development and testing
//   - mongo: MongoDB catalog for production persistence
//   - replicated: Pulse replicated-map catalog for multi-node deployments
//
// To add a new implementation, create a subpackage that implements the
// Catalog interface and returns catalog.ErrNotFound for missing descriptors.
package catalog

import (
	"context"
	"errors"

	"github.com/agentcore/core/toolindex"
)

// ErrNotFound is returned when a descriptor is not found in the catalog.
var ErrNotFound = errors.New("descriptor not found")

// Catalog defines the persistence layer for tool descriptors.
// Implementations must be safe for concurrent use.
type Catalog interface {
	// SaveDescriptor stores or updates a descriptor. If a descriptor with
	// the same tool name already exists, it is replaced.
	SaveDescriptor(ctx context.Context, d *toolindex.ToolDescriptor) error

	// GetDescriptor retrieves a descriptor by tool name. Returns ErrNotFound
	// if the descriptor does not exist.
	GetDescriptor(ctx context.Context, toolName string) (*toolindex.ToolDescriptor, error)

	// DeleteDescriptor removes a descriptor by tool name. Returns ErrNotFound
	// if the descriptor does not exist.
	DeleteDescriptor(ctx context.Context, toolName string) error

	// ListDescriptors returns all descriptors, optionally filtered by skill
	// names. If skills is non-empty, only descriptors belonging to one of the
	// specified skills are returned. Returns an empty slice if none match.
	ListDescriptors(ctx context.Context, skills []string) ([]*toolindex.ToolDescriptor, error)

	// SearchDescriptors searches descriptors by query string. The query is
	// matched against tool name, description, category, routing keywords, and
	// intents (case-insensitive). Returns an empty slice if none match.
	SearchDescriptors(ctx context.Context, query string) ([]*toolindex.ToolDescriptor, error)
}

// Compile-time check that every Catalog can serve as the index's
// write-through descriptor sink.
var _ toolindex.DescriptorSink = (Catalog)(nil)

// MatchesSkills returns true if the descriptor belongs to one of the filter
// skills. An empty filter matches everything.
func MatchesSkills(skillName string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range filter {
		if s == skillName {
			return true
		}
	}
	return false
}
