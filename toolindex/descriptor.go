// Package toolindex implements the hybrid vector+keyword tool index: a
// columnar table of tool descriptors with dictionary-encoded low-cardinality
// columns, a BM25-style keyword index, weighted reciprocal-rank fusion, and
// calibrated confidence scoring.
package toolindex

import (
	"encoding/json"
	"strings"

	"github.com/agentcore/core/runtime/toolerror"
)

// ToolDescriptor is the system-of-record shape for a single tool entry.
// ToolName must be of the form "<skill>.<command>": exactly two
// dot-separated parts, with the first part equal to SkillName, and the name
// must not begin with "<skill>.<skill>.".
type ToolDescriptor struct {
	ToolName        string          `json:"tool_name"`
	SkillName       string          `json:"skill_name"`
	Category        string          `json:"category"`
	Description     string          `json:"description"`
	FilePath        string          `json:"file_path"`
	RoutingKeywords []string        `json:"routing_keywords"`
	Intents         []string        `json:"intents"`
	InputSchema     json.RawMessage `json:"input_schema,omitempty"`
	Embedding       []float32       `json:"embedding,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// ValidateToolName enforces the tool-name shape invariant: exactly two
// dot-separated parts, the first equal to skillName, and no doubled prefix.
func ValidateToolName(toolName, skillName string) error {
	parts := strings.Split(toolName, ".")
	if len(parts) != 2 {
		return toolerror.Errorf(toolerror.Validation, "tool_name %q must have exactly two dot-separated parts", toolName)
	}
	if parts[0] != skillName {
		return toolerror.Errorf(toolerror.Validation, "tool_name %q must start with skill_name %q", toolName, skillName)
	}
	if parts[0] == parts[1] {
		return toolerror.Errorf(toolerror.Validation, "tool_name %q must not repeat skill_name as the command part", toolName)
	}
	return nil
}

// Validate checks the descriptor's invariants: tool-name shape and vector
// length (only if dimension is known, i.e. dimension > 0).
func (d *ToolDescriptor) Validate(dimension int) error {
	if err := ValidateToolName(d.ToolName, d.SkillName); err != nil {
		return err
	}
	if dimension > 0 && len(d.Embedding) > 0 && len(d.Embedding) != dimension {
		return toolerror.Errorf(toolerror.Validation, "tool %q embedding has length %d, want %d", d.ToolName, len(d.Embedding), dimension)
	}
	return nil
}

// zeroVector returns a zero-filled vector of the given dimension, used as
// the sentinel for "no embedding" in the columnar store.
func zeroVector(dimension int) []float32 {
	if dimension <= 0 {
		return nil
	}
	return make([]float32, dimension)
}
