package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutPublisherDelivers(t *testing.T) {
	pub := NewFanoutPublisher(4, nil)
	a := pub.Subscribe()
	b := pub.Subscribe()

	event := GateEvent{Kind: GateEventKind, EpisodeID: "e1", Verdict: VerdictRetain}
	require.NoError(t, pub.Publish(context.Background(), event))

	assert.Equal(t, "e1", (<-a).EpisodeID)
	assert.Equal(t, "e1", (<-b).EpisodeID)
}

func TestFanoutPublisherDropsForSlowSubscriber(t *testing.T) {
	pub := NewFanoutPublisher(1, nil)
	slow := pub.Subscribe()

	// Fill the buffer, then publish once more: the extra event is dropped
	// instead of blocking.
	require.NoError(t, pub.Publish(context.Background(), GateEvent{EpisodeID: "first"}))
	require.NoError(t, pub.Publish(context.Background(), GateEvent{EpisodeID: "dropped"}))

	assert.Equal(t, "first", (<-slow).EpisodeID)
	select {
	case e := <-slow:
		t.Fatalf("expected drop, got %q", e.EpisodeID)
	default:
	}
}

func TestFanoutPublisherClose(t *testing.T) {
	pub := NewFanoutPublisher(1, nil)
	ch := pub.Subscribe()
	pub.Close()

	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, pub.Publish(context.Background(), GateEvent{EpisodeID: "late"}))

	// Subscribing after close yields a closed channel.
	_, open = <-pub.Subscribe()
	assert.False(t, open)
}
