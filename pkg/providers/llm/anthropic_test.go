package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/topn2024/bookkeeping-voice-core/pkg/voicecore"
)

func claudeServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" {
			t.Error("expected an x-api-key header")
		}
		resp := map[string]interface{}{
			"content": []map[string]string{{"text": text}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestAnthropicIntentLLM_RecognizeMultiOperationParsesAddTransaction(t *testing.T) {
	body := `{"resultType":"operation","operations":[{"type":"addTransaction","priority":"immediate","params":{"amount":50,"category":"餐饮"}}]}`
	server := claudeServer(t, body)
	defer server.Close()

	llm := NewAnthropicIntentLLM("test-key", "")
	llm.url = server.URL

	result, err := llm.RecognizeMultiOperation(context.Background(), "午饭花了五十块", "", nil)
	if err != nil {
		t.Fatalf("RecognizeMultiOperation failed: %v", err)
	}
	if result.ResultType != voicecore.ResultOperation {
		t.Fatalf("unexpected result type %v", result.ResultType)
	}
	if len(result.Operations) != 1 || result.Operations[0].Type != voicecore.OpAddTransaction {
		t.Fatalf("unexpected operations %+v", result.Operations)
	}
}

func TestAnthropicIntentLLM_RecognizeMultiOperationStripsCodeFence(t *testing.T) {
	body := "```json\n{\"resultType\":\"chat\",\"chatContent\":\"今天天气不错\"}\n```"
	server := claudeServer(t, body)
	defer server.Close()

	llm := NewAnthropicIntentLLM("test-key", "")
	llm.url = server.URL

	result, err := llm.RecognizeMultiOperation(context.Background(), "今天天气怎么样", "", nil)
	if err != nil {
		t.Fatalf("RecognizeMultiOperation failed: %v", err)
	}
	if result.ResultType != voicecore.ResultChat || result.ChatContent != "今天天气不错" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAnthropicIntentLLM_RecognizeMultiOperationIncludesHistoryTurns(t *testing.T) {
	var sawMessages int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Messages []map[string]string `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		sawMessages = len(payload.Messages)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"text": `{"resultType":"chat","chatContent":"好的"}`}},
		})
	}))
	defer server.Close()

	llm := NewAnthropicIntentLLM("test-key", "")
	llm.url = server.URL

	_, err := llm.RecognizeMultiOperation(context.Background(), "继续", "", []string{"你好", "你好呀"})
	if err != nil {
		t.Fatalf("RecognizeMultiOperation failed: %v", err)
	}
	if sawMessages != 3 {
		t.Fatalf("expected 2 history turns plus the new user turn (3 messages), got %d", sawMessages)
	}
}

func TestAnthropicIntentLLM_RecognizeMultiOperationReturnsErrorOnNonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "overloaded"})
	}))
	defer server.Close()

	llm := NewAnthropicIntentLLM("test-key", "")
	llm.url = server.URL

	if _, err := llm.RecognizeMultiOperation(context.Background(), "你好", "", nil); err == nil {
		t.Fatal("expected an error on a non-200 response")
	}
}
