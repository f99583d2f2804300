package memory

import (
	"context"
	"sync"

	"github.com/agentcore/core/runtime/telemetry"
)

// FanoutPublisher is the in-process GatePublisher: it fans every gate event
// out to all subscribers over bounded channels. A subscriber that falls
// behind has events dropped with a logged warning rather than blocking the
// turn that produced them.
type FanoutPublisher struct {
	logger telemetry.Logger

	mu     sync.RWMutex
	subs   []chan GateEvent
	buffer int
	closed bool
}

// NewFanoutPublisher constructs a publisher whose subscriber channels hold
// up to buffer events.
func NewFanoutPublisher(buffer int, logger telemetry.Logger) *FanoutPublisher {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &FanoutPublisher{logger: logger, buffer: buffer}
}

// Subscribe returns a channel receiving every subsequently published event.
// The channel is closed by Close.
func (p *FanoutPublisher) Subscribe() <-chan GateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan GateEvent, p.buffer)
	if p.closed {
		close(ch)
		return ch
	}
	p.subs = append(p.subs, ch)
	return ch
}

// Publish implements GatePublisher. It never blocks: full subscriber
// buffers drop the event.
func (p *FanoutPublisher) Publish(ctx context.Context, event GateEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	for _, ch := range p.subs {
		select {
		case ch <- event:
		default:
			p.logger.Warn(ctx, "gate event dropped for slow subscriber",
				"episode_id", event.EpisodeID, "verdict", string(event.Verdict))
		}
	}
	return nil
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (p *FanoutPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
}
