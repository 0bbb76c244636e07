package voicecore

import (
	"strings"
	"sync"
	"time"
)

var rejectionPhrases = []string{"不用了", "不需要", "没事", "算了", "别说了", "够了"}

// ProactiveConversationManager watches for user silence and, after
// ProactiveSilenceTimeoutMs with nothing said, prompts the user rather
// than waiting forever (C13). It gives up after MaxProactiveCount prompts
// in a row or once MaxTotalSilenceMs of silence has accumulated, and
// stops immediately if the user's next utterance is a rejection phrase.
type ProactiveConversationManager struct {
	mu sync.Mutex

	silenceTimeout time.Duration
	maxCount       int
	maxTotal       time.Duration

	timer          *time.Timer
	promptCount    int
	silenceStarted time.Time
	ended          bool

	onPrompt func()
	onEnd    func()
}

// NewProactiveConversationManager builds a manager from cfg's silence
// tunables.
func NewProactiveConversationManager(cfg Config) *ProactiveConversationManager {
	return &ProactiveConversationManager{
		silenceTimeout: time.Duration(cfg.ProactiveSilenceTimeoutMs) * time.Millisecond,
		maxCount:       cfg.MaxProactiveCount,
		maxTotal:       time.Duration(cfg.MaxTotalSilenceMs) * time.Millisecond,
	}
}

// OnPrompt registers the callback fired when the silence timer elapses
// and a proactive prompt should be spoken.
func (m *ProactiveConversationManager) OnPrompt(fn func()) { m.onPrompt = fn }

// OnEnd registers the callback fired when the manager gives up — either
// MaxProactiveCount consecutive prompts went unanswered, or MaxTotalSilenceMs
// of accumulated silence was reached.
func (m *ProactiveConversationManager) OnEnd(fn func()) { m.onEnd = fn }

// ResetTimer restarts the silence timer. isUserInitiated should be true
// whenever the reset is caused by the user actually saying something
// (as opposed to, say, the engine's own TTS playback finishing) — a
// user-initiated reset also clears the prompt count and total-silence
// clock, since the user is engaged again.
func (m *ProactiveConversationManager) ResetTimer(isUserInitiated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}

	if isUserInitiated {
		m.promptCount = 0
		m.silenceStarted = time.Time{}
	}

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.silenceTimeout, m.fireTimeout)
}

func (m *ProactiveConversationManager) fireTimeout() {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	if m.silenceStarted.IsZero() {
		m.silenceStarted = time.Now()
	}

	totalSilence := time.Since(m.silenceStarted)
	m.promptCount++
	tooManyPrompts := m.promptCount > m.maxCount
	tooMuchSilence := totalSilence >= m.maxTotal
	if tooManyPrompts || tooMuchSilence {
		m.ended = true
		m.mu.Unlock()
		if m.onEnd != nil {
			m.onEnd()
		}
		return
	}
	m.mu.Unlock()

	if m.onPrompt != nil {
		m.onPrompt()
	}

	// Re-arm for the next silence window; a prompt that also goes
	// unanswered accumulates toward maxCount/maxTotal above.
	m.mu.Lock()
	if !m.ended {
		m.timer = time.AfterFunc(m.silenceTimeout, m.fireTimeout)
	}
	m.mu.Unlock()
}

// HandleUserUtterance inspects text for a rejection phrase ("不用了",
// "算了", ...) and ends the proactive sequence immediately if found,
// returning true. Otherwise it resets the timer as user-initiated and
// returns false.
func (m *ProactiveConversationManager) HandleUserUtterance(text string) bool {
	for _, phrase := range rejectionPhrases {
		if strings.Contains(text, phrase) {
			m.Stop()
			return true
		}
	}
	m.ResetTimer(true)
	return false
}

// Stop cancels the silence timer and marks the manager ended; no further
// prompts or end callbacks will fire until a fresh manager is created.
func (m *ProactiveConversationManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.ended = true
}
