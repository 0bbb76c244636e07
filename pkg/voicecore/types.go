// Package voicecore implements the real-time conversational voice engine
// that turns a continuous microphone stream into bookkeeping operations
// and spoken responses: streaming ASR input, VAD-gated sentence
// aggregation, a dual-channel execution/conversation processor with
// priority scheduling, TTS output pipelining with barge-in, and a timing
// judge that decides when deferred query results may be voiced.
package voicecore

import "context"

// Logger is the logging seam every component takes instead of a concrete
// logging library. NoOpLogger is the test default; CharmLogger (see
// logging.go) is the production implementation.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Used in tests and as a safe default
// when no Logger is supplied.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Priority orders Operation execution in the ExecutionChannel (C8).
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityNormal     Priority = "normal"
	PriorityDeferred   Priority = "deferred"
	PriorityBackground Priority = "background"
)

// OperationType names the bookkeeping intent carried by an Operation.
type OperationType string

const (
	OpAddTransaction  OperationType = "addTransaction"
	OpQuery           OperationType = "query"
	OpUpdate          OperationType = "update"
	OpDelete          OperationType = "delete"
	OpListCategories  OperationType = "listCategories"
	OpUnknown         OperationType = "unknown"
)

// Operation is an intent derived from user speech. It is immutable once
// enqueued on the ExecutionChannel.
type Operation struct {
	Type     OperationType
	Priority Priority
	Params   map[string]interface{}
}

// OperationID returns the operationId param, if present.
func (o Operation) OperationID() (string, bool) {
	v, ok := o.Params["operationId"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AddTransactionParams is the typed view of an addTransaction Operation's
// Params, produced by a single parsing step in the recognizer (C7) rather
// than re-parsed ad hoc by every consumer.
type AddTransactionParams struct {
	Amount      float64
	Category    string
	Description string
	OperationID string
}

// ParseAddTransactionParams extracts a typed view from an Operation's raw
// Params map. ok is false if required fields are missing or malformed.
func ParseAddTransactionParams(op Operation) (AddTransactionParams, bool) {
	var p AddTransactionParams
	amount, ok := toFloat(op.Params["amount"])
	if !ok {
		return p, false
	}
	p.Amount = amount
	p.Category, _ = op.Params["category"].(string)
	p.Description, _ = op.Params["description"].(string)
	p.OperationID, _ = op.Params["operationId"].(string)
	return p, true
}

// QueryParams is the typed view of a query Operation's Params.
type QueryParams struct {
	Kind        string // e.g. "totalExpense", "totalIncome", "balance"
	Category    string
	OperationID string
}

// ParseQueryParams extracts a typed view from an Operation's raw Params map.
func ParseQueryParams(op Operation) QueryParams {
	var p QueryParams
	p.Kind, _ = op.Params["kind"].(string)
	p.Category, _ = op.Params["category"].(string)
	p.OperationID, _ = op.Params["operationId"].(string)
	return p
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// RecognitionResultType classifies a MultiOperationResult.
type RecognitionResultType string

const (
	ResultOperation RecognitionResultType = "operation"
	ResultChat      RecognitionResultType = "chat"
	ResultClarify   RecognitionResultType = "clarify"
	ResultFailed    RecognitionResultType = "failed"
)

// RecognitionSource names where a MultiOperationResult came from.
type RecognitionSource string

const (
	SourceLLM  RecognitionSource = "llm"
	SourceRule RecognitionSource = "rule"
)

// MultiOperationResult is the recognizer's (C7) output for one user
// utterance.
type MultiOperationResult struct {
	ResultType      RecognitionResultType
	Operations      []Operation
	ChatContent     string
	ClarifyQuestion string
	Confidence      float64
	Source          RecognitionSource
	OriginalInput   string
}

// ExecutionResult is the outcome of executing one Operation.
type ExecutionResult struct {
	Success bool
	Data    map[string]interface{}
	Error   string
}

// DataString is a small helper for reading string fields out of Data
// without repeating the type assertion everywhere.
func (r ExecutionResult) DataString(key string) (string, bool) {
	if r.Data == nil {
		return "", false
	}
	s, ok := r.Data[key].(string)
	return s, ok
}

// ResultPriority orders BufferedResults for timing judgement (C11/C12),
// distinct from the scheduling Priority used by the ExecutionChannel.
type ResultPriority string

const (
	ResultCritical ResultPriority = "critical"
	ResultNormal   ResultPriority = "normal"
	ResultLow      ResultPriority = "low"
)

// BufferedResultStatus is the monotonic lifecycle of a BufferedResult:
// pending -> {notified | expired | suppressed}.
type BufferedResultStatus string

const (
	StatusPending    BufferedResultStatus = "pending"
	StatusNotified   BufferedResultStatus = "notified"
	StatusExpired    BufferedResultStatus = "expired"
	StatusSuppressed BufferedResultStatus = "suppressed"
)

// Sentence is the unit of TTS synthesis emitted by the SentenceBuffer
// (C2) and consumed by the TTSQueueWorker (C4).
type Sentence struct {
	Text       string
	ResponseID int64
}

// TimingContext is the pure input the TimingJudge (C12) decides on.
type TimingContext struct {
	UserInput            string
	IsUserSpeaking        bool
	SilenceDurationMs     int64
	IsNegativeEmotion     bool
	IsInChat              bool
	LastRoundWasOperation bool
	PendingResultCount    int
	HighestPriority       ResultPriority
}

// TimingVerdict is the TimingJudge's decision on when a buffered result
// may be voiced.
type TimingVerdict string

const (
	VerdictImmediate    TimingVerdict = "immediate"
	VerdictNatural      TimingVerdict = "natural"
	VerdictOnIdle       TimingVerdict = "onIdle"
	VerdictOnTopicShift TimingVerdict = "onTopicShift"
	VerdictDefer        TimingVerdict = "defer"
	VerdictSuppress     TimingVerdict = "suppress"
)

// ConversationMode selects the FeedbackAdapter's response register.
type ConversationMode string

const (
	ModeQuickAck ConversationMode = "quickAck"
	ModeChat     ConversationMode = "chat"
	ModeMixed    ConversationMode = "mixed"
)

// ASRProvider / StreamingASRProvider, LLMIntentProvider, TTSProvider,
// VADProvider, AECProvider, OperationAdapter, FeedbackAdapter are the §6
// external collaborator contracts. They live here (not in pkg/providers)
// because the core consumes them and must not import any concrete
// provider package.

// ASRProvider transcribes a finished audio buffer.
type ASRProvider interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
	Name() string
}

// StreamingASRProvider additionally supports streaming transcription,
// delivering partial and final text as audio arrives.
type StreamingASRProvider interface {
	ASRProvider
	StreamTranscribe(ctx context.Context, onTranscript func(text string, isFinal bool) error) (chan<- []byte, error)
}

// LLMIntentProvider is the §6 "LLM intent service" consumed by the
// MultiOperationRecognizer (C7).
type LLMIntentProvider interface {
	RecognizeMultiOperation(ctx context.Context, input string, pageContext string, history []string) (MultiOperationResult, error)
	Name() string
}

// TTSProvider is the §6 TTS service contract: stream synthesis with
// interrupt support, explicit stop/fade, and a played-audio feed for AEC.
type TTSProvider interface {
	Speak(ctx context.Context, text string, interrupt bool, onChunk func([]byte) error) error
	Stop() error
	FadeOutAndStop() error
	Name() string
}

// VADProvider is the §6 VAD service contract.
type VADProvider interface {
	ProcessAudioFrame(frame []byte) (*VADEvent, error)
	Reset()
	Clone() VADProvider
	Name() string
}

// VADEventType enumerates the §6 VAD event stream.
type VADEventType string

const (
	VADSpeechStart          VADEventType = "speechStart"
	VADSpeechEnd            VADEventType = "speechEnd"
	VADSilenceTimeout       VADEventType = "silenceTimeout"
	VADTurnEndPauseStart    VADEventType = "turnEndPauseStart"
	VADTurnEndPauseTimeout  VADEventType = "turnEndPauseTimeout"
	VADNoiseFloorUpdated    VADEventType = "noiseFloorUpdated"
)

// VADEvent is one event from a VADProvider.
type VADEvent struct {
	Type      VADEventType
	Timestamp int64
	NoiseRMS  float64 // populated for VADNoiseFloorUpdated only
}

// AECProvider is the §6 acoustic echo canceller contract. All calls are
// non-fatal: a failing AEC degrades gracefully rather than aborting a turn.
type AECProvider interface {
	FeedTTSAudio(pcm []byte)
	SetTTSPlaying(playing bool)
}

// OperationAdapter executes one Operation against the bookkeeping domain.
// It must never panic/throw into the ExecutionChannel: failures come back
// as ExecutionResult{Success:false}.
type OperationAdapter interface {
	Execute(ctx context.Context, op Operation) ExecutionResult
	CanHandle(t OperationType) bool
}

// FeedbackAdapter turns accumulated ExecutionResults and chat content into
// a user-visible reply string.
type FeedbackAdapter interface {
	GenerateFeedback(mode ConversationMode, results []ExecutionResult, chatContent string) (string, error)
	SupportsMode(mode ConversationMode) bool
}
