// Package pulse exposes a memory.GatePublisher implementation that
// publishes gate events to goa.design/pulse streams. It mirrors the
// layering used by existing Pulse deployments: services build a Redis
// client, pass it in, and hand the resulting publisher to the memory store.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/agentcore/core/memory"
)

type (
	// Stream is the subset of Pulse stream operations the publisher needs.
	// It is satisfied by *streaming.Stream and keeps the publisher
	// unit-testable without Redis.
	Stream interface {
		Add(ctx context.Context, event string, payload []byte, opts ...streamopts.AddEvent) (string, error)
	}

	// Options configures the publisher.
	Options struct {
		// Redis is the Redis connection backing the Pulse stream. Required
		// unless Stream is provided directly.
		Redis *redis.Client
		// Stream overrides the Pulse stream (primarily for tests).
		Stream Stream
		// StreamName is the target stream. Defaults to
		// "memory/gate/<Table>".
		StreamName string
		// Table names the memory table whose gate events are published.
		Table string
		// StreamMaxLen bounds the number of entries kept. Zero uses Pulse
		// defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add operations. Zero means no
		// timeout.
		OperationTimeout time.Duration
	}

	// Publisher writes gate events to a Pulse stream, giving multi-node
	// deployments a durable, replayable gate history. Thread-safe for
	// concurrent Publish calls.
	Publisher struct {
		stream  Stream
		timeout time.Duration
	}
)

// Compile-time check that Publisher implements memory.GatePublisher.
var _ memory.GatePublisher = (*Publisher)(nil)

// New constructs a Pulse-backed gate event publisher.
func New(opts Options) (*Publisher, error) {
	stream := opts.Stream
	if stream == nil {
		if opts.Redis == nil {
			return nil, errors.New("redis client is required")
		}
		name := opts.StreamName
		if name == "" {
			if opts.Table == "" {
				return nil, errors.New("stream name or table is required")
			}
			name = fmt.Sprintf("memory/gate/%s", opts.Table)
		}
		var streamOptions []streamopts.Stream
		if opts.StreamMaxLen > 0 {
			streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(opts.StreamMaxLen))
		}
		str, err := streaming.NewStream(name, opts.Redis, streamOptions...)
		if err != nil {
			return nil, fmt.Errorf("create pulse stream: %w", err)
		}
		stream = str
	}
	return &Publisher{stream: stream, timeout: opts.OperationTimeout}, nil
}

// Publish implements memory.GatePublisher: the event is serialized to JSON
// and appended to the stream under its kind.
func (p *Publisher) Publish(ctx context.Context, event memory.GateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal gate event: %w", err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if _, err := p.stream.Add(ctx, event.Kind, payload); err != nil {
		return fmt.Errorf("pulse add gate event: %w", err)
	}
	return nil
}
