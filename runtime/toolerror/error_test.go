package toolerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndErrorf(t *testing.T) {
	err := New(Validation, "bad input")
	assert.Equal(t, "bad input", err.Error())
	assert.True(t, Is(err, Validation))
	assert.False(t, Is(err, NotFound))

	err = Errorf(NotFound, "table %q not found", "tools")
	assert.Equal(t, `table "tools" not found`, err.Error())
	assert.True(t, Is(err, NotFound))
}

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Transient, "snapshot save", cause)
	assert.Equal(t, "snapshot save: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, Transient))

	// Wrapping with an empty message falls back to the cause's message.
	err = Wrap(Fatal, "", cause)
	assert.Equal(t, "disk full", err.Error())
}

func TestIsUnwrapsNonCoreLayers(t *testing.T) {
	inner := New(Conflict, "busy")
	wrapped := fmt.Errorf("outer: %w", inner)
	assert.True(t, Is(wrapped, Conflict))
	assert.False(t, Is(errors.New("plain"), Conflict))
	assert.False(t, Is(nil, Conflict))
}

func TestNilReceiverSafety(t *testing.T) {
	var err *CoreError
	assert.Empty(t, err.Error())
	require.NoError(t, err.Unwrap())
}
