package voicecore

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// fillerWords are Chinese conversational filler tokens stripped from user
// input before it reaches either the LLM or the rule engine, so "呃那个
// 花了五十块" recognizes the same as "花了五十块".
var fillerWords = []string{"呃", "嗯", "那个", "就是", "然后呢", "这个", "啊"}

var amountPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(?:元|块|块钱)?`)

var expenseKeywords = []string{"花了", "花费", "支出", "买了", "付了", "用了"}
var incomeKeywords = []string{"赚了", "收入", "入账", "到账", "发了工资"}
var queryKeywords = []string{"还剩", "余额", "多少钱", "花了多少", "一共花了", "总共"}
var deleteKeywords = []string{"删除", "撤销", "作废"}
var updateKeywords = []string{"改成", "改为", "更正", "修改"}
var listCategoryKeywords = []string{"有哪些分类", "都有什么类别", "分类列表"}

// MultiOperationRecognizer turns one user utterance into a
// MultiOperationResult (C7). It calls the configured LLM with a bounded
// timeout and falls back to a small keyword rule engine if the LLM times
// out or errors, so a transient LLM outage degrades to "can still add a
// plain expense" rather than going silent.
type MultiOperationRecognizer struct {
	llm    LLMIntentProvider
	cfg    Config
	logger Logger
	errs   ErrorHandler
}

// NewMultiOperationRecognizer builds a recognizer bound to one LLM intent
// provider.
func NewMultiOperationRecognizer(llm LLMIntentProvider, cfg Config, logger Logger, errs ErrorHandler) *MultiOperationRecognizer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &MultiOperationRecognizer{llm: llm, cfg: cfg, logger: logger, errs: errs}
}

// Recognize classifies one utterance. pageContext and history are passed
// through to the LLM unchanged; the rule-engine fallback ignores them.
func (r *MultiOperationRecognizer) Recognize(ctx context.Context, input string, pageContext string, history []string) MultiOperationResult {
	cleaned := stripFillers(input)
	if strings.TrimSpace(cleaned) == "" {
		return MultiOperationResult{ResultType: ResultFailed, Source: SourceRule, OriginalInput: input}
	}

	llmCtx, cancel := context.WithTimeout(ctx, r.cfg.recognitionTimeout())
	defer cancel()

	result, err := r.llm.RecognizeMultiOperation(llmCtx, cleaned, pageContext, history)
	if err != nil {
		if r.errs != nil {
			kind := ErrKindRecognition
			if errors.Is(err, context.DeadlineExceeded) {
				kind = ErrKindTimeout
			}
			r.errs.Handle(NewCoreError("MultiOperationRecognizer", kind, SeverityWarning, err, MsgRecognitionFailure))
		}
		return r.ruleFallback(cleaned, input)
	}

	result.OriginalInput = input
	result.Source = SourceLLM
	result.Operations = filterOperations(result.Operations)

	if result.ResultType == ResultOperation && len(result.Operations) == 0 {
		return r.ruleFallback(cleaned, input)
	}
	return result
}

// filterOperations drops unknown-typed operations and addTransaction
// operations with a non-positive amount — neither is actionable and
// letting them reach the ExecutionChannel would just surface a
// confusing failure later.
func filterOperations(ops []Operation) []Operation {
	out := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if op.Type == OpUnknown {
			continue
		}
		if op.Type == OpAddTransaction {
			params, ok := ParseAddTransactionParams(op)
			if !ok || params.Amount <= 0 {
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

// ruleFallback is the keyword-based recognizer used when the LLM cannot
// be reached. It only handles single-operation utterances. An amount
// with no recognizable category comes back as a clarify request; input
// with no amount and no matching keyword comes back as a chat result
// with empty ChatContent.
func (r *MultiOperationRecognizer) ruleFallback(cleaned, original string) MultiOperationResult {
	amount, hasAmount := extractAmount(cleaned)

	switch {
	case containsAny(cleaned, deleteKeywords):
		return MultiOperationResult{
			ResultType: ResultOperation,
			Operations: []Operation{{Type: OpDelete, Priority: PriorityNormal, Params: map[string]interface{}{}}},
			Source:     SourceRule,
			OriginalInput: original,
		}
	case containsAny(cleaned, updateKeywords):
		return MultiOperationResult{
			ResultType: ResultOperation,
			Operations: []Operation{{Type: OpUpdate, Priority: PriorityNormal, Params: map[string]interface{}{}}},
			Source:     SourceRule,
			OriginalInput: original,
		}
	case containsAny(cleaned, listCategoryKeywords):
		return MultiOperationResult{
			ResultType: ResultOperation,
			Operations: []Operation{{Type: OpListCategories, Priority: PriorityNormal, Params: map[string]interface{}{}}},
			Source:     SourceRule,
			OriginalInput: original,
		}
	case containsAny(cleaned, queryKeywords):
		return MultiOperationResult{
			ResultType: ResultOperation,
			Operations: []Operation{{
				Type:     OpQuery,
				Priority: PriorityDeferred,
				Params:   map[string]interface{}{"kind": "balance"},
			}},
			Source:        SourceRule,
			OriginalInput: original,
		}
	case hasAmount && containsAny(cleaned, incomeKeywords):
		return MultiOperationResult{
			ResultType: ResultOperation,
			Operations: []Operation{{
				Type:     OpAddTransaction,
				Priority: PriorityImmediate,
				Params:   map[string]interface{}{"amount": amount, "category": "收入"},
			}},
			Source:        SourceRule,
			OriginalInput: original,
		}
	case hasAmount && (containsAny(cleaned, expenseKeywords) || true):
		// A bare amount with no recognizable verb still reads as an
		// expense in everyday bookkeeping speech ("五十块买菜").
		category := guessCategory(cleaned)
		if category == "" {
			return MultiOperationResult{
				ResultType:      ResultClarify,
				ClarifyQuestion: "这笔支出是什么类别呢？",
				Source:          SourceRule,
				OriginalInput:   original,
			}
		}
		return MultiOperationResult{
			ResultType: ResultOperation,
			Operations: []Operation{{
				Type:     OpAddTransaction,
				Priority: PriorityImmediate,
				Params:   map[string]interface{}{"amount": amount, "category": category},
			}},
			Source:        SourceRule,
			OriginalInput: original,
		}
	default:
		return MultiOperationResult{
			ResultType:    ResultChat,
			ChatContent:   "",
			Source:        SourceRule,
			OriginalInput: original,
		}
	}
}

var categoryKeywords = map[string]string{
	"菜": "餐饮", "吃": "餐饮", "饭": "餐饮", "外卖": "餐饮",
	"打车": "交通", "地铁": "交通", "公交": "交通", "油": "交通",
	"电影": "娱乐", "游戏": "娱乐",
	"衣服": "购物", "鞋": "购物", "买": "购物",
	"房租": "住房", "水电": "住房",
}

func guessCategory(text string) string {
	for kw, category := range categoryKeywords {
		if strings.Contains(text, kw) {
			return category
		}
	}
	return ""
}

func extractAmount(text string) (float64, bool) {
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func stripFillers(text string) string {
	out := text
	for _, f := range fillerWords {
		out = strings.ReplaceAll(out, f, "")
	}
	return strings.TrimSpace(out)
}
