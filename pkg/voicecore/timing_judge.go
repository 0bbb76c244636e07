package voicecore

import (
	"fmt"
	"strings"
)

// TimingJudge is a pure decision table (C12): given a TimingContext
// snapshot it decides whether a buffered result may be voiced right now,
// folded into the next natural pause, held for idle, or
// deferred/suppressed outright. Decide never returns VerdictOnTopicShift. It holds no state of its own — every
// call is independent, which is what makes it trivial to unit test.
type TimingJudge struct{}

// NewTimingJudge constructs a TimingJudge. It takes no configuration: the
// decision table below is the whole of its behavior.
func NewTimingJudge() *TimingJudge {
	return &TimingJudge{}
}

// askResultPatterns are user phrasings that directly ask whether a
// deferred result has landed — a question like this always warrants an
// immediate answer, overriding ordinary priority-based timing.
var askResultPatterns = []string{"记好了吗", "好了吗", "搞定了吗", "弄好了吗", "记上了吗"}

func matchesAskResultPattern(userInput string) bool {
	for _, p := range askResultPatterns {
		if strings.Contains(userInput, p) {
			return true
		}
	}
	return false
}

// Decide returns the verdict for the highest-priority pending result
// described by ctx. Conditions are checked in the order below; the first
// match wins.
func (j *TimingJudge) Decide(ctx TimingContext) TimingVerdict {
	if ctx.PendingResultCount == 0 {
		return VerdictSuppress
	}

	// The user is actively speaking — voicing anything now would talk
	// over them. This outranks everything else, including a direct ask.
	if ctx.IsUserSpeaking {
		return VerdictDefer
	}

	// The user directly asked whether the result landed — answer now.
	if matchesAskResultPattern(ctx.UserInput) {
		return VerdictImmediate
	}

	// A negative-emotion turn always takes priority: never interleave a
	// deferred query result into a turn where the user sounds upset.
	if ctx.IsNegativeEmotion {
		return VerdictDefer
	}

	if ctx.IsInChat && ctx.HighestPriority != ResultCritical {
		// Mid-conversation with nothing critical pending: wait rather
		// than interrupting the current thread.
		return VerdictDefer
	}

	if ctx.SilenceDurationMs >= 5000 {
		return VerdictOnIdle
	}

	// A short natural pause right after an operation is the ideal
	// moment to fold a result in.
	if ctx.LastRoundWasOperation {
		return VerdictNatural
	}

	if ctx.HighestPriority == ResultCritical {
		return VerdictOnIdle
	}

	return VerdictDefer
}

// GenerateNotification builds a spoken lead-in appropriate to verdict and
// the result being voiced. It never returns an empty string for a verdict
// that actually voices something (immediate/natural/onIdle/onTopicShift);
// callers should not call this for defer/suppress verdicts.
func (j *TimingJudge) GenerateNotification(verdict TimingVerdict, result BufferedResult) string {
	body := resultSummary(result)
	switch verdict {
	case VerdictImmediate:
		return body
	case VerdictNatural:
		return "对了，" + body
	case VerdictOnIdle:
		return "你刚才问的，" + body
	case VerdictOnTopicShift:
		return "顺便说一下，" + body
	default:
		return body
	}
}

func resultSummary(result BufferedResult) string {
	if !result.Result.Success {
		return MsgResponseGenerationFailed
	}
	if s, ok := result.Result.DataString("summary"); ok {
		return s
	}
	return fmt.Sprintf("操作 %s 已完成", result.OperationID)
}
