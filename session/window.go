package session

import (
	"strings"
	"sync"
	"time"

	"github.com/agentcore/core/runtime/toolerror"
)

// Turn slot roles. Two consecutive slots (user then assistant) make one
// turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnSlot is one half of a conversational turn.
type TurnSlot struct {
	Role         string `json:"role"`
	Content      string `json:"content"`
	ToolCount    int    `json:"tool_count"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// WindowStats summarizes one session's window.
type WindowStats struct {
	SlotCount    int `json:"slot_count"`
	TurnCount    int `json:"turn_count"`
	SummaryCount int `json:"summary_count"`
	BackupCount  int `json:"backup_count"`
}

// sessionWindow is the per-session state: a ring of turn slots, a summary
// FIFO, and named backup rings for atomic snapshot-reset/resume.
type sessionWindow struct {
	slots     []TurnSlot
	summaries []string
	backups   map[string]*windowBackup
}

type windowBackup struct {
	slots         []TurnSlot
	summaries     []string
	savedAtUnixMS int64
}

// Window is the bounded per-session ring buffer of turn slots plus a
// bounded FIFO of summary segments, both with deterministic eviction.
//
// All operations on a single session are totally ordered under the
// window's lock, so snapshot-reset, resume, and drop are each observable
// as a single pre/post state transition from any concurrent reader.
type Window struct {
	cfg Config
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*sessionWindow
}

// NewWindow constructs an empty window with the given configuration.
func NewWindow(cfg Config) (*Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Window{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*sessionWindow),
	}, nil
}

func (w *Window) session(id string) *sessionWindow {
	sw, ok := w.sessions[id]
	if !ok {
		sw = &sessionWindow{}
		w.sessions[id] = sw
	}
	return sw
}

// maxSlots is the ring capacity: two slots per turn.
func (w *Window) maxSlots() int {
	return 2 * w.cfg.WindowMaxTurns
}

// AppendTurn pushes a user slot and an assistant slot. On overflow the
// oldest slots are evicted from the head.
func (w *Window) AppendTurn(sessionID, user, assistant string, toolCount int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sw := w.session(sessionID)
	sw.slots = append(sw.slots,
		TurnSlot{Role: RoleUser, Content: user},
		TurnSlot{Role: RoleAssistant, Content: assistant, ToolCount: toolCount},
	)
	if over := len(sw.slots) - w.maxSlots(); over > 0 {
		sw.slots = append([]TurnSlot(nil), sw.slots[over:]...)
	}
}

// TurnCount returns the number of complete turns currently buffered.
func (w *Window) TurnCount(sessionID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if sw, ok := w.sessions[sessionID]; ok {
		return len(sw.slots) / 2
	}
	return 0
}

// GetRecentMessages returns up to 2*nTurns most recent slots, oldest
// first.
func (w *Window) GetRecentMessages(sessionID string, nTurns int) []TurnSlot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sw, ok := w.sessions[sessionID]
	if !ok || nTurns <= 0 {
		return nil
	}
	n := 2 * nTurns
	if n > len(sw.slots) {
		n = len(sw.slots)
	}
	return append([]TurnSlot(nil), sw.slots[len(sw.slots)-n:]...)
}

// DrainOldestTurns removes and returns up to 2*nTurns oldest slots, FIFO.
func (w *Window) DrainOldestTurns(sessionID string, nTurns int) []TurnSlot {
	w.mu.Lock()
	defer w.mu.Unlock()
	sw, ok := w.sessions[sessionID]
	if !ok || nTurns <= 0 {
		return nil
	}
	n := 2 * nTurns
	if n > len(sw.slots) {
		n = len(sw.slots)
	}
	drained := append([]TurnSlot(nil), sw.slots[:n]...)
	sw.slots = append([]TurnSlot(nil), sw.slots[n:]...)
	return drained
}

// AppendSummarySegment trims the segment to SummaryMaxChars characters
// (suffixing "..." when truncated) and enqueues it, evicting the oldest
// segment when the FIFO is full. A segment that is empty after trimming is
// dropped.
func (w *Window) AppendSummarySegment(sessionID, segment string) {
	segment = truncateToChars(segment, w.cfg.SummaryMaxChars)
	if segment == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	sw := w.session(sessionID)
	sw.summaries = append(sw.summaries, segment)
	if over := len(sw.summaries) - w.cfg.SummaryMaxSegments; over > 0 {
		sw.summaries = append([]string(nil), sw.summaries[over:]...)
	}
}

// GetRecentSummarySegments returns the last n segments in insertion order.
func (w *Window) GetRecentSummarySegments(sessionID string, n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sw, ok := w.sessions[sessionID]
	if !ok || n <= 0 {
		return nil
	}
	if n > len(sw.summaries) {
		n = len(sw.summaries)
	}
	return append([]string(nil), sw.summaries[len(sw.summaries)-n:]...)
}

// ReplaceWindowSlots swaps the session's slot ring wholesale, trimming to
// capacity from the head.
func (w *Window) ReplaceWindowSlots(sessionID string, slots []TurnSlot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sw := w.session(sessionID)
	if over := len(slots) - w.maxSlots(); over > 0 {
		slots = slots[over:]
	}
	sw.slots = append([]TurnSlot(nil), slots...)
}

// Clear removes all state for the session, including backups.
func (w *Window) Clear(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, sessionID)
}

// Stats returns the session's current window statistics.
func (w *Window) Stats(sessionID string) WindowStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sw, ok := w.sessions[sessionID]
	if !ok {
		return WindowStats{}
	}
	return WindowStats{
		SlotCount:    len(sw.slots),
		TurnCount:    len(sw.slots) / 2,
		SummaryCount: len(sw.summaries),
		BackupCount:  len(sw.backups),
	}
}

// SnapshotReset atomically swaps the session's active ring and summary FIFO
// into a named backup, leaving the active window empty, and records the
// save time. An existing backup under the same name is an error.
func (w *Window) SnapshotReset(sessionID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sw := w.session(sessionID)
	if sw.backups == nil {
		sw.backups = make(map[string]*windowBackup)
	}
	if _, exists := sw.backups[name]; exists {
		return toolerror.Errorf(toolerror.Conflict, "window backup %q already exists", name)
	}
	sw.backups[name] = &windowBackup{
		slots:         sw.slots,
		summaries:     sw.summaries,
		savedAtUnixMS: w.now().UnixMilli(),
	}
	sw.slots = nil
	sw.summaries = nil
	return nil
}

// Resume atomically swaps the named backup back into the active window,
// discarding whatever accumulated since the reset, and removes the backup.
func (w *Window) Resume(sessionID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sw, ok := w.sessions[sessionID]
	if !ok {
		return toolerror.Errorf(toolerror.NotFound, "session %q has no window", sessionID)
	}
	backup, ok := sw.backups[name]
	if !ok {
		return toolerror.Errorf(toolerror.NotFound, "window backup %q not found", name)
	}
	sw.slots = backup.slots
	sw.summaries = backup.summaries
	delete(sw.backups, name)
	return nil
}

// DropBackup removes the named backup without touching the active window.
func (w *Window) DropBackup(sessionID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sw, ok := w.sessions[sessionID]
	if !ok {
		return toolerror.Errorf(toolerror.NotFound, "session %q has no window", sessionID)
	}
	if _, ok := sw.backups[name]; !ok {
		return toolerror.Errorf(toolerror.NotFound, "window backup %q not found", name)
	}
	delete(sw.backups, name)
	return nil
}

// BackupSavedAt returns the save time (unix milliseconds) recorded for a
// named backup.
func (w *Window) BackupSavedAt(sessionID, name string) (int64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sw, ok := w.sessions[sessionID]
	if !ok {
		return 0, toolerror.Errorf(toolerror.NotFound, "session %q has no window", sessionID)
	}
	backup, ok := sw.backups[name]
	if !ok {
		return 0, toolerror.Errorf(toolerror.NotFound, "window backup %q not found", name)
	}
	return backup.savedAtUnixMS, nil
}

// truncateToChars bounds s to max characters (not bytes), suffixing "..."
// when cut, so multi-byte runes are never split at the boundary.
func truncateToChars(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := max - 3
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + "..."
}

// estimateTokens approximates the token cost of a text for context-budget
// packing: roughly one token per four characters, minimum one.
func estimateTokens(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	return n/4 + 1
}
