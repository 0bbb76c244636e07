// Package bookkeeping is the in-memory OperationAdapter/FeedbackAdapter
// pair voicecore executes bookkeeping Operations against. It keeps no
// durable state: everything lives in process memory for the life of one
// voice session, consistent with the engine's "no persistence" scope —
// a real deployment would swap this package for one backed by whatever
// storage the rest of the product already uses.
package bookkeeping

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/topn2024/bookkeeping-voice-core/pkg/voicecore"
)

// Transaction is one recorded expense or income entry.
type Transaction struct {
	ID          string
	Amount      float64
	Category    string
	Description string
	CreatedAt   time.Time
}

// Ledger is an in-memory transaction store. It is safe for concurrent
// use.
type Ledger struct {
	mu           sync.Mutex
	transactions map[string]Transaction
	order        []string
	nextID       int
}

// NewLedger builds an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{transactions: make(map[string]Transaction)}
}

func (l *Ledger) add(amount float64, category, description string) Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	tx := Transaction{
		ID:          fmt.Sprintf("tx-%d", l.nextID),
		Amount:      amount,
		Category:    category,
		Description: description,
		CreatedAt:   time.Now(),
	}
	l.transactions[tx.ID] = tx
	l.order = append(l.order, tx.ID)
	return tx
}

func (l *Ledger) update(id string, amount float64, category string) (Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[id]
	if !ok {
		return Transaction{}, false
	}
	if amount != 0 {
		tx.Amount = amount
	}
	if category != "" {
		tx.Category = category
	}
	l.transactions[id] = tx
	return tx, true
}

func (l *Ledger) delete(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.transactions[id]; !ok {
		return false
	}
	delete(l.transactions, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *Ledger) latestID() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.order) == 0 {
		return "", false
	}
	return l.order[len(l.order)-1], true
}

// Balance returns (income total, expense total) across every recorded
// transaction, or only those in category when category is non-empty.
// Categories named "收入" count as income; everything else counts as
// expense.
func (l *Ledger) Balance(category string) (income, expense float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range l.transactions {
		if category != "" && tx.Category != category {
			continue
		}
		if tx.Category == "收入" {
			income += tx.Amount
		} else {
			expense += tx.Amount
		}
	}
	return income, expense
}

// Categories returns every distinct category currently in use, sorted.
func (l *Ledger) Categories() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, tx := range l.transactions {
		if !seen[tx.Category] {
			seen[tx.Category] = true
			out = append(out, tx.Category)
		}
	}
	sort.Strings(out)
	return out
}

// OperationAdapter executes addTransaction/query/update/delete/
// listCategories operations against a Ledger.
type OperationAdapter struct {
	ledger *Ledger
}

// NewOperationAdapter builds an adapter over ledger.
func NewOperationAdapter(ledger *Ledger) *OperationAdapter {
	return &OperationAdapter{ledger: ledger}
}

func (a *OperationAdapter) CanHandle(t voicecore.OperationType) bool {
	switch t {
	case voicecore.OpAddTransaction, voicecore.OpQuery, voicecore.OpUpdate, voicecore.OpDelete, voicecore.OpListCategories:
		return true
	default:
		return false
	}
}

func (a *OperationAdapter) Execute(ctx context.Context, op voicecore.Operation) voicecore.ExecutionResult {
	switch op.Type {
	case voicecore.OpAddTransaction:
		return a.executeAdd(op)
	case voicecore.OpQuery:
		return a.executeQuery(op)
	case voicecore.OpUpdate:
		return a.executeUpdate(op)
	case voicecore.OpDelete:
		return a.executeDelete(op)
	case voicecore.OpListCategories:
		return a.executeListCategories()
	default:
		return voicecore.ExecutionResult{Success: false, Error: "unsupported operation type " + string(op.Type)}
	}
}

func (a *OperationAdapter) executeAdd(op voicecore.Operation) voicecore.ExecutionResult {
	params, ok := voicecore.ParseAddTransactionParams(op)
	if !ok {
		return voicecore.ExecutionResult{Success: false, Error: "missing or invalid amount"}
	}
	tx := a.ledger.add(params.Amount, params.Category, params.Description)
	return voicecore.ExecutionResult{
		Success: true,
		Data: map[string]interface{}{
			"transactionId": tx.ID,
			"summary":       fmt.Sprintf("已记录 %s %.2f 元", tx.Category, tx.Amount),
		},
	}
}

func (a *OperationAdapter) executeQuery(op voicecore.Operation) voicecore.ExecutionResult {
	params := voicecore.ParseQueryParams(op)
	income, expense := a.ledger.Balance(params.Category)

	var summary string
	switch params.Kind {
	case "totalIncome":
		summary = fmt.Sprintf("总收入 %.2f 元", income)
	case "totalExpense":
		summary = fmt.Sprintf("总支出 %.2f 元", expense)
	default:
		summary = fmt.Sprintf("收入 %.2f 元，支出 %.2f 元，结余 %.2f 元", income, expense, income-expense)
	}

	return voicecore.ExecutionResult{
		Success: true,
		Data: map[string]interface{}{
			"income":  income,
			"expense": expense,
			"summary": summary,
		},
	}
}

func (a *OperationAdapter) executeUpdate(op voicecore.Operation) voicecore.ExecutionResult {
	id, _ := op.Params["transactionId"].(string)
	if id == "" {
		var ok bool
		id, ok = a.ledger.latestID()
		if !ok {
			return voicecore.ExecutionResult{Success: false, Error: "no transaction to update"}
		}
	}
	amount, _ := op.Params["amount"].(float64)
	category, _ := op.Params["category"].(string)

	tx, ok := a.ledger.update(id, amount, category)
	if !ok {
		return voicecore.ExecutionResult{Success: false, Error: "transaction not found"}
	}
	return voicecore.ExecutionResult{
		Success: true,
		Data: map[string]interface{}{
			"transactionId": tx.ID,
			"summary":       fmt.Sprintf("已更新为 %s %.2f 元", tx.Category, tx.Amount),
		},
	}
}

func (a *OperationAdapter) executeDelete(op voicecore.Operation) voicecore.ExecutionResult {
	id, _ := op.Params["transactionId"].(string)
	if id == "" {
		var ok bool
		id, ok = a.ledger.latestID()
		if !ok {
			return voicecore.ExecutionResult{Success: false, Error: "no transaction to delete"}
		}
	}
	if !a.ledger.delete(id) {
		return voicecore.ExecutionResult{Success: false, Error: "transaction not found"}
	}
	return voicecore.ExecutionResult{
		Success: true,
		Data:    map[string]interface{}{"summary": "已删除该笔记录"},
	}
}

func (a *OperationAdapter) executeListCategories() voicecore.ExecutionResult {
	categories := a.ledger.Categories()
	data := make([]interface{}, len(categories))
	for i, c := range categories {
		data[i] = c
	}
	return voicecore.ExecutionResult{
		Success: true,
		Data: map[string]interface{}{
			"categories": data,
			"summary":    fmt.Sprintf("目前有 %d 个分类", len(categories)),
		},
	}
}
