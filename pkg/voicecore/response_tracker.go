package voicecore

import "sync"

// responseState is the tracked state of one assistant turn.
type responseState struct {
	id                int64
	playbackStarted   bool
	playbackCompleted bool
	interrupted       bool
}

// ResponseTracker is the sole source of truth for response identity (C1).
// It allocates monotonically increasing response IDs and tracks which one
// is "current" — only the highest-id response ever is; older IDs are
// stale and every check against them is silently ignored rather than
// erroring.
type ResponseTracker struct {
	mu       sync.Mutex
	lastID   int64
	current  int64
	states   map[int64]*responseState
}

// NewResponseTracker creates a tracker with no current response (id 0).
func NewResponseTracker() *ResponseTracker {
	return &ResponseTracker{
		states: make(map[int64]*responseState),
	}
}

// StartNewResponse allocates the next response id and makes it current.
func (t *ResponseTracker) StartNewResponse() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastID++
	id := t.lastID
	t.current = id
	t.states[id] = &responseState{id: id}
	return id
}

// IsCurrent reports whether id is the highest-id response issued so far.
func (t *ResponseTracker) IsCurrent(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return id == t.current
}

// MarkInterrupted flags id as interrupted. A stale id is a no-op.
func (t *ResponseTracker) MarkInterrupted(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[id]; ok {
		s.interrupted = true
	}
}

// MarkPlaybackStarted records that TTS playback began for id.
func (t *ResponseTracker) MarkPlaybackStarted(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[id]; ok {
		s.playbackStarted = true
	}
}

// ConfirmPlaybackComplete returns true only when id is still current and
// was never interrupted. This gates the OutputPipeline's "completed"
// callback; repeated calls with the same id and no interleaved
// MarkInterrupted both return true (idempotent).
func (t *ResponseTracker) ConfirmPlaybackComplete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id != t.current {
		return false
	}
	s, ok := t.states[id]
	if !ok {
		return false
	}
	if s.interrupted {
		return false
	}
	s.playbackCompleted = true
	return true
}

// CancelCurrent advances the current id past any outstanding id without
// allocating a fresh response, so all checks against the old id (and
// anything in flight for it) become stale immediately. Used when a turn
// is abandoned before a new response is ready to start.
func (t *ResponseTracker) CancelCurrent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[t.current]; ok {
		s.interrupted = true
	}
	t.lastID++
	t.current = t.lastID
}

// Current returns the current response id (0 if none yet).
func (t *ResponseTracker) Current() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
