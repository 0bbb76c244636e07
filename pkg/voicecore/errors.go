package voicecore

import (
	"fmt"
	"sync"
	"time"
)

// ErrorKind classifies a CoreError per spec §7.
type ErrorKind string

const (
	ErrKindRecognition   ErrorKind = "recognition"
	ErrKindExecution     ErrorKind = "execution"
	ErrKindCallback      ErrorKind = "callback"
	ErrKindTimeout       ErrorKind = "timeout"
	ErrKindNetwork       ErrorKind = "network"
	ErrKindState         ErrorKind = "state"
	ErrKindConfiguration ErrorKind = "configuration"
	ErrKindUnknown       ErrorKind = "unknown"
)

// ErrorSeverity ranks a CoreError for triage, not for control flow: the
// core never crashes the host process regardless of severity.
type ErrorSeverity string

const (
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// CoreError is the error envelope passed to the ErrorHandler. Retryable
// is true only for network/timeout kinds.
type CoreError struct {
	Kind        ErrorKind
	Severity    ErrorSeverity
	Component   string
	Cause       error
	Context     map[string]interface{}
	UserMessage string
	Retryable   bool
	At          time.Time
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %v", e.Component, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Component, e.Kind, e.UserMessage)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// NewCoreError builds a CoreError, setting Retryable automatically for
// network/timeout kinds and At to now.
func NewCoreError(component string, kind ErrorKind, severity ErrorSeverity, cause error, userMessage string) *CoreError {
	return &CoreError{
		Kind:        kind,
		Severity:    severity,
		Component:   component,
		Cause:       cause,
		UserMessage: userMessage,
		Retryable:   kind == ErrKindNetwork || kind == ErrKindTimeout,
		At:          time.Now(),
	}
}

// User-visible fallback sentences, always used instead of surfacing a
// stack trace or raw provider error to the user.
const (
	MsgResponseGenerationFailed = "抱歉，生成响应时遇到了问题"
	MsgOperationTimedOut        = "操作超时，请重试"
	MsgNetworkFailure           = "网络连接失败，请检查网络后重试"
	MsgRecognitionFailure       = "语音识别遇到问题，请重试"
)

// ErrorHandler receives every CoreError raised anywhere in the engine.
// Returning true means the error was absorbed (no further propagation is
// expected from the caller).
type ErrorHandler interface {
	Handle(err *CoreError) bool
}

// ErrorObserver is an optional external hook notified of every error
// alongside the default handler's own bookkeeping.
type ErrorObserver func(err *CoreError)

// DefaultErrorHandler logs every error via a Logger and keeps a ring
// buffer of the last 100 for diagnostics. An optional ErrorObserver may
// also be registered; its own panics/errors are caught and logged so a
// broken observer can never double-fault the handler.
type DefaultErrorHandler struct {
	mu       sync.Mutex
	logger   Logger
	buf      []*CoreError
	bufCap   int
	next     int
	observer ErrorObserver
}

// NewDefaultErrorHandler creates a handler with a 100-entry ring buffer.
func NewDefaultErrorHandler(logger Logger) *DefaultErrorHandler {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &DefaultErrorHandler{
		logger: logger,
		buf:    make([]*CoreError, 0, 100),
		bufCap: 100,
	}
}

// SetObserver installs (or clears, with nil) an external observer.
func (h *DefaultErrorHandler) SetObserver(obs ErrorObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = obs
}

func (h *DefaultErrorHandler) Handle(err *CoreError) bool {
	if err == nil {
		return true
	}

	switch err.Severity {
	case SeverityCritical:
		h.logger.Error(err.Error(), "component", err.Component, "kind", err.Kind)
	case SeverityError:
		h.logger.Error(err.Error(), "component", err.Component, "kind", err.Kind)
	default:
		h.logger.Warn(err.Error(), "component", err.Component, "kind", err.Kind)
	}

	h.mu.Lock()
	if len(h.buf) < h.bufCap {
		h.buf = append(h.buf, err)
	} else {
		h.buf[h.next] = err
		h.next = (h.next + 1) % h.bufCap
	}
	observer := h.observer
	h.mu.Unlock()

	if observer != nil {
		h.safeObserve(observer, err)
	}

	return true
}

// safeObserve calls the user-supplied observer and absorbs any panic it
// raises so a broken observer can never crash the handler it's attached
// to (the "double-fault is caught and logged" rule in spec §4.8/§7).
func (h *DefaultErrorHandler) safeObserve(obs ErrorObserver, err *CoreError) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("error observer panicked", "panic", r, "component", err.Component)
		}
	}()
	obs(err)
}

// Recent returns a snapshot of the last N errors (N = bufCap or fewer),
// oldest first.
func (h *DefaultErrorHandler) Recent() []*CoreError {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*CoreError, len(h.buf))
	if len(h.buf) < h.bufCap {
		copy(out, h.buf)
		return out
	}
	copy(out, h.buf[h.next:])
	copy(out[h.bufCap-h.next:], h.buf[:h.next])
	return out
}
