package bookkeeping

import (
	"fmt"
	"strings"

	"github.com/topn2024/bookkeeping-voice-core/pkg/voicecore"
)

// FeedbackAdapter turns executed operation results and chat content into
// a spoken reply, with a register that varies by ConversationMode:
// quickAck keeps it to one short acknowledgement, chat lets the model's
// chatContent stand largely on its own, and mixed interleaves both.
type FeedbackAdapter struct{}

// NewFeedbackAdapter builds a FeedbackAdapter. It holds no state — every
// call is independent of the ones before it.
func NewFeedbackAdapter() *FeedbackAdapter {
	return &FeedbackAdapter{}
}

func (f *FeedbackAdapter) SupportsMode(mode voicecore.ConversationMode) bool {
	switch mode {
	case voicecore.ModeQuickAck, voicecore.ModeChat, voicecore.ModeMixed:
		return true
	default:
		return false
	}
}

func (f *FeedbackAdapter) GenerateFeedback(mode voicecore.ConversationMode, results []voicecore.ExecutionResult, chatContent string) (string, error) {
	summaries := make([]string, 0, len(results))
	anyFailed := false
	for _, r := range results {
		if !r.Success {
			anyFailed = true
			continue
		}
		if s, ok := r.DataString("summary"); ok && s != "" {
			summaries = append(summaries, s)
		}
	}

	switch mode {
	case voicecore.ModeQuickAck:
		if len(summaries) > 0 {
			return summaries[0], nil
		}
		if anyFailed {
			return voicecore.MsgResponseGenerationFailed, nil
		}
		return "好的", nil

	case voicecore.ModeChat:
		if chatContent != "" {
			return chatContent, nil
		}
		return f.mixedReply(summaries, anyFailed, ""), nil

	default: // ModeMixed
		return f.mixedReply(summaries, anyFailed, chatContent), nil
	}
}

func (f *FeedbackAdapter) mixedReply(summaries []string, anyFailed bool, chatContent string) string {
	var parts []string
	parts = append(parts, summaries...)
	if chatContent != "" {
		parts = append(parts, chatContent)
	}
	if len(parts) == 0 {
		if anyFailed {
			return voicecore.MsgResponseGenerationFailed
		}
		return "好的"
	}
	reply := strings.Join(parts, "，")
	if anyFailed {
		reply = fmt.Sprintf("%s，不过有一笔操作没能完成", reply)
	}
	return reply
}
