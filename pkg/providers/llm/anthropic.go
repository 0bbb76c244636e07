// Package llm collects the LLMIntentProvider implementations voicecore
// can be wired against.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/topn2024/bookkeeping-voice-core/pkg/voicecore"
)

const intentSystemPrompt = `你是一个记账语音助手的意图识别模块。将用户的一句话解析为下面的 JSON 结构，不要输出任何多余文字：

{
  "resultType": "operation" | "chat" | "clarify" | "failed",
  "operations": [
    {"type": "addTransaction", "priority": "immediate", "params": {"amount": 50, "category": "餐饮", "description": "午饭"}},
    {"type": "query", "priority": "deferred", "params": {"kind": "balance"}},
    {"type": "update", "priority": "normal", "params": {}},
    {"type": "delete", "priority": "normal", "params": {}},
    {"type": "listCategories", "priority": "normal", "params": {}}
  ],
  "chatContent": "闲聊或追问时的回复内容",
  "clarifyQuestion": "信息不全时需要用户补充的问题",
  "confidence": 0.9
}

记账、查询类操作用 immediate 或 deferred 优先级；查询类操作优先级一般是 deferred。无法识别出任何操作且用户在闲聊时用 chat；信息不完整（例如只说了类别没有金额）时用 clarify。`

// AnthropicIntentLLM recognizes bookkeeping intents by asking Claude to
// emit the structured JSON shape above, then parsing it into a
// voicecore.MultiOperationResult.
type AnthropicIntentLLM struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewAnthropicIntentLLM builds a client. model defaults to
// "claude-3-5-sonnet-20240620" if empty.
func NewAnthropicIntentLLM(apiKey, model string) *AnthropicIntentLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicIntentLLM{
		apiKey:     apiKey,
		url:        "https://api.anthropic.com/v1/messages",
		model:      model,
		httpClient: http.DefaultClient,
	}
}

func (l *AnthropicIntentLLM) RecognizeMultiOperation(ctx context.Context, input string, pageContext string, history []string) (voicecore.MultiOperationResult, error) {
	var messages []map[string]string
	for i, turn := range history {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, map[string]string{"role": role, "content": turn})
	}
	userContent := input
	if pageContext != "" {
		userContent = fmt.Sprintf("当前页面上下文：%s\n用户说：%s", pageContext, input)
	}
	messages = append(messages, map[string]string{"role": "user", "content": userContent})

	payload := map[string]interface{}{
		"model":      l.model,
		"system":     intentSystemPrompt,
		"messages":   messages,
		"max_tokens": 1024,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return voicecore.MultiOperationResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return voicecore.MultiOperationResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return voicecore.MultiOperationResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return voicecore.MultiOperationResult{}, fmt.Errorf("anthropic intent llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return voicecore.MultiOperationResult{}, err
	}
	if len(result.Content) == 0 {
		return voicecore.MultiOperationResult{}, fmt.Errorf("no content returned from anthropic")
	}

	return parseIntentJSON(result.Content[0].Text)
}

func (l *AnthropicIntentLLM) Name() string {
	return "anthropic-intent-llm"
}

type intentPayload struct {
	ResultType      string `json:"resultType"`
	Operations      []intentOperation `json:"operations"`
	ChatContent     string `json:"chatContent"`
	ClarifyQuestion string `json:"clarifyQuestion"`
	Confidence      float64 `json:"confidence"`
}

type intentOperation struct {
	Type     string                 `json:"type"`
	Priority string                 `json:"priority"`
	Params   map[string]interface{} `json:"params"`
}

// parseIntentJSON decodes the model's structured reply, tolerating a
// leading/trailing code fence since some models wrap JSON in ```json
// blocks despite being asked not to.
func parseIntentJSON(raw string) (voicecore.MultiOperationResult, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var payload intentPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return voicecore.MultiOperationResult{}, fmt.Errorf("parsing intent response: %w", err)
	}

	ops := make([]voicecore.Operation, 0, len(payload.Operations))
	for _, o := range payload.Operations {
		params := o.Params
		if params == nil {
			params = map[string]interface{}{}
		}
		ops = append(ops, voicecore.Operation{
			Type:     voicecore.OperationType(o.Type),
			Priority: voicecore.Priority(o.Priority),
			Params:   params,
		})
	}

	return voicecore.MultiOperationResult{
		ResultType:      voicecore.RecognitionResultType(payload.ResultType),
		Operations:      ops,
		ChatContent:     payload.ChatContent,
		ClarifyQuestion: payload.ClarifyQuestion,
		Confidence:      payload.Confidence,
	}, nil
}
