package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/core/memory"
	"github.com/agentcore/core/runtime/telemetry"
	"github.com/agentcore/core/runtime/toolerror"
)

// consolidationQueueSize bounds the async consolidation backlog before
// AppendTurn starts returning retry-later errors.
const consolidationQueueSize = 64

// SaveScheduler receives a save trigger after each successful memory
// mutation. memory.SnapshotManager satisfies it.
type SaveScheduler interface {
	ScheduleSave(reason string)
}

// Consolidator owns the window-to-memory promotion path: when a session's
// buffered turn count reaches the threshold, the oldest turns are drained,
// summarized into a segment, and written to the episodic store as one
// consolidated episode.
type Consolidator struct {
	cfg     Config
	window  *Window
	store   *memory.Store
	logger  telemetry.Logger
	saves   SaveScheduler
	decays  *decayTracker
	now     func() time.Time

	pending chan consolidationJob
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type consolidationJob struct {
	sessionID  string
	intent     string
	experience string
	outcome    string
	nowMS      int64
}

// decayTracker counts turns across sessions and fires time decay every
// DecayEveryTurns turns when enabled.
type decayTracker struct {
	mu    sync.Mutex
	every int
	count int
}

// ConsolidatorOption customizes construction.
type ConsolidatorOption func(*Consolidator)

// WithLogger wires structured logging into the consolidator.
func WithLogger(logger telemetry.Logger) ConsolidatorOption {
	return func(c *Consolidator) { c.logger = logger }
}

// WithSaveScheduler schedules a durable snapshot save after every memory
// mutation the consolidator performs.
func WithSaveScheduler(s SaveScheduler) ConsolidatorOption {
	return func(c *Consolidator) { c.saves = s }
}

// WithClock overrides the consolidator's time source.
func WithClock(now func() time.Time) ConsolidatorOption {
	return func(c *Consolidator) { c.now = now }
}

// WithDecayEvery enables time decay every n turns appended across all
// sessions, always with the fixed factor decayFactorDefault (0.985).
func WithDecayEvery(n int) ConsolidatorOption {
	return func(c *Consolidator) {
		if n > 0 {
			c.decays = &decayTracker{every: n}
		}
	}
}

// NewConsolidator binds a window to an episodic store. When the config
// enables async consolidation a single background worker drains the job
// queue until Close.
func NewConsolidator(cfg Config, window *Window, store *memory.Store, opts ...ConsolidatorOption) (*Consolidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if window == nil || store == nil {
		return nil, toolerror.New(toolerror.Validation, "window and store are required")
	}
	c := &Consolidator{
		cfg:    cfg,
		window: window,
		store:  store,
		logger: telemetry.NewNoopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.ConsolidationAsync {
		c.pending = make(chan consolidationJob, consolidationQueueSize)
		c.wg.Add(1)
		go c.worker()
	}
	return c, nil
}

// AppendTurn records one user/assistant turn and consolidates when the
// session reaches the threshold. Under async backpressure (a full
// consolidation queue) it returns a Conflict error before mutating any
// state, so the caller can retry without losing the turn.
func (c *Consolidator) AppendTurn(ctx context.Context, sessionID, user, assistant string, toolCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cfg.ConsolidationAsync && len(c.pending) == cap(c.pending) {
		return toolerror.New(toolerror.Conflict, "consolidation backlog full, retry later")
	}

	c.window.AppendTurn(sessionID, user, assistant, toolCount)
	c.bumpDecay()

	if c.window.TurnCount(sessionID) < c.cfg.ConsolidationThresholdTurns {
		return nil
	}

	drained := c.window.DrainOldestTurns(sessionID, c.cfg.ConsolidationTakeTurns)
	if len(drained) == 0 {
		return nil
	}
	intent, experience, outcome := summarizeTurns(drained)
	c.window.AppendSummarySegment(sessionID, summaryText(intent, experience, outcome, len(drained)/2))

	job := consolidationJob{
		sessionID:  sessionID,
		intent:     intent,
		experience: experience,
		outcome:    outcome,
		nowMS:      c.now().UnixMilli(),
	}
	if c.cfg.ConsolidationAsync {
		select {
		case c.pending <- job:
		default:
			// The capacity check above raced with another producer; run
			// inline rather than dropping the drained turns.
			c.consolidate(ctx, job)
		}
		return nil
	}
	c.consolidate(ctx, job)
	return nil
}

func (c *Consolidator) worker() {
	defer c.wg.Done()
	for job := range c.pending {
		c.consolidate(context.Background(), job)
	}
}

// consolidate writes the summarized turns as one scoped episode and seeds
// its Q-value from the outcome.
func (c *Consolidator) consolidate(ctx context.Context, job consolidationJob) {
	id := fmt.Sprintf("consolidated-%s-%d", job.sessionID, job.nowMS)
	c.store.StoreForScope(job.sessionID, &memory.Episode{
		ID:         id,
		Intent:     job.intent,
		Experience: job.experience,
		Outcome:    job.outcome,
	})
	reward := 1.0
	if job.outcome == memory.OutcomeError {
		reward = 0.0
	}
	c.store.UpdateQ(id, reward)
	if c.saves != nil {
		c.saves.ScheduleSave("consolidation")
	}
	c.logger.Debug(ctx, "consolidated turns into episode",
		"session_id", job.sessionID, "episode_id", id, "outcome", job.outcome)
}

// bumpDecay advances the turn counter and applies time decay on schedule.
func (c *Consolidator) bumpDecay() {
	if c.decays == nil {
		return
	}
	c.decays.mu.Lock()
	c.decays.count++
	fire := c.decays.count >= c.decays.every
	if fire {
		c.decays.count = 0
	}
	c.decays.mu.Unlock()
	if !fire {
		return
	}
	if err := c.store.ApplyDecay(decayFactorDefault); err == nil && c.saves != nil {
		c.saves.ScheduleSave("decay")
	}
}

// decayFactorDefault matches the memory configuration default.
const decayFactorDefault = 0.985

// Close stops the async worker after draining queued jobs.
func (c *Consolidator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if c.pending != nil {
		close(c.pending)
		c.wg.Wait()
	}
}

// summarizeTurns reduces drained slots to (intent, experience, outcome)
// deterministically: the first user message is the intent, the
// concatenated assistant messages are the experience, and the outcome is
// error when any assistant slot signals failure.
func summarizeTurns(drained []TurnSlot) (intent, experience, outcome string) {
	var assistant []string
	outcome = memory.OutcomeCompleted
	for _, slot := range drained {
		switch slot.Role {
		case RoleUser:
			if intent == "" && slot.Content != "" {
				intent = slot.Content
			}
		case RoleAssistant:
			if slot.Content != "" {
				assistant = append(assistant, slot.Content)
			}
			if signalsFailure(slot.Content) {
				outcome = memory.OutcomeError
			}
		}
	}
	experience = strings.Join(assistant, " ")
	return intent, experience, outcome
}

// signalsFailure reports whether an assistant message reads as a failure.
func signalsFailure(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "error") || strings.Contains(lower, "failed")
}

// summaryText renders the compact summary segment for the window FIFO.
func summaryText(intent, experience, outcome string, turns int) string {
	return fmt.Sprintf("[%d turns, %s] %s -> %s", turns, outcome, intent, experience)
}
