package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/topn2024/bookkeeping-voice-core/pkg/voicecore"
)

// OpenAIIntentLLM recognizes bookkeeping intents via OpenAI's chat
// completions endpoint using the same structured-JSON contract as
// AnthropicIntentLLM, with response_format forced to json_object so the
// model can't wrap its answer in prose.
type OpenAIIntentLLM struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewOpenAIIntentLLM builds a client. model defaults to "gpt-4o" if empty.
func NewOpenAIIntentLLM(apiKey, model string) *OpenAIIntentLLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIIntentLLM{
		apiKey:     apiKey,
		url:        "https://api.openai.com/v1/chat/completions",
		model:      model,
		httpClient: http.DefaultClient,
	}
}

func (l *OpenAIIntentLLM) RecognizeMultiOperation(ctx context.Context, input string, pageContext string, history []string) (voicecore.MultiOperationResult, error) {
	messages := []map[string]string{{"role": "system", "content": intentSystemPrompt}}
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
		"model":           l.model,
		"messages":        messages,
		"response_format": map[string]string{"type": "json_object"},
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
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return voicecore.MultiOperationResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return voicecore.MultiOperationResult{}, fmt.Errorf("openai intent llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return voicecore.MultiOperationResult{}, err
	}
	if len(result.Choices) == 0 {
		return voicecore.MultiOperationResult{}, fmt.Errorf("no choices returned from openai")
	}

	return parseIntentJSON(result.Choices[0].Message.Content)
}

func (l *OpenAIIntentLLM) Name() string {
	return "openai-intent-llm"
}
