package state

import (
	"fmt"
	"strings"
	"time"
)

// EffectFunc derives the state updates a successfully completed task of
// one family applies to the world. The result map is the data extracted
// from the execution outcome.
type EffectFunc func(e *Engine, result map[string]interface{}) []Update

// completionEffects is the per-family effect table; like the resource
// constraints, families register independently.
var completionEffects = map[string]EffectFunc{}

// RegisterCompletionEffect installs the effect derivation for a family.
func RegisterCompletionEffect(family string, fn EffectFunc) {
	completionEffects[family] = fn
}

// CompletionUpdates derives the update list for a completed task.
// Families without registered effects produce none.
func (e *Engine) CompletionUpdates(taskID string, result map[string]interface{}) []Update {
	family := taskID
	if i := strings.Index(taskID, "-"); i > 0 {
		family = taskID[:i]
	}

	fn, ok := completionEffects[family]
	if !ok {
		return nil
	}
	return fn(e, result)
}

// ApplyCompletionEffects derives and applies a task's completion
// effects in one batch with rollback, returning the applied updates.
func (e *Engine) ApplyCompletionEffects(taskID string, result map[string]interface{}) ([]Update, error) {
	updates := e.CompletionUpdates(taskID, result)
	if len(updates) == 0 {
		return nil, nil
	}
	if err := e.ApplyUpdates(updates, true); err != nil {
		return nil, err
	}
	return updates, nil
}

func resultString(result map[string]interface{}, key, def string) string {
	if v, ok := result[key].(string); ok && v != "" {
		return v
	}
	return def
}

func resultFloat(result map[string]interface{}, key string, def float64) float64 {
	switch v := result[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func init() {
	// B1 shopping: record the order, deduct the purchase from checking
	// and confirm the order row.
	RegisterCompletionEffect("B1", func(e *Engine, result map[string]interface{}) []Update {
		orderID := resultString(result, "order_id", "O-10001")
		total := resultFloat(result, "total", 49.99)

		return []Update{
			{Key: "mem.orders.last.id", Op: OpSet, Value: orderID},
			{Key: "mem.orders.last.total", Op: OpSet, Value: total},
			{Key: "mem.orders.last.state", Op: OpSet, Value: "confirmed"},
			{Key: "mem.orders.last.timestamp", Op: OpSet, Value: time.Now().Format(time.RFC3339)},
			{Key: "mem.orders.all", Op: OpAppend, Value: orderID},
			{Key: "env.banking.balance.checking", Op: OpSubtract, Value: total},
			{Key: "env.orders." + orderID + ".state", Op: OpSet, Value: "confirmed"},
		}
	})

	// C2 return: record the return, flip the order row and refund.
	RegisterCompletionEffect("C2", func(e *Engine, result map[string]interface{}) []Update {
		orderID := resultString(result, "order_id", "")
		if orderID == "" {
			orderID, _ = e.store.GetMemory("orders.last.id", "").(string)
		}
		returnID := resultString(result, "return_id", "R-50001")
		refund := resultFloat(result, "refund_amount", 49.99)

		return []Update{
			{Key: "mem.returns.last.id", Op: OpSet, Value: returnID},
			{Key: "mem.returns.last.order_id", Op: OpSet, Value: orderID},
			{Key: "mem.returns.last.state", Op: OpSet, Value: "approved"},
			{Key: "mem.returns.last.refund_amount", Op: OpSet, Value: refund},
			{Key: "env.orders." + orderID + ".state", Op: OpSet, Value: "returned"},
			{Key: "env.banking.balance.checking", Op: OpAdd, Value: refund},
		}
	})

	// D1 balance check only mirrors the observed balance into memory.
	RegisterCompletionEffect("D1", func(e *Engine, result map[string]interface{}) []Update {
		balance := result["balance"]
		if extracted, ok := result["extracted_data"].(map[string]interface{}); ok {
			if b, ok := extracted["balance"]; ok {
				balance = b
			}
		}

		return []Update{
			{Key: "mem.banking.balance.checking", Op: OpSet, Value: balance},
			{Key: "mem.banking.balance.last_check", Op: OpSet, Value: time.Now().Format(time.RFC3339)},
		}
	})

	// D3 autopay setup.
	RegisterCompletionEffect("D3", func(e *Engine, result map[string]interface{}) []Update {
		autopayID := resultString(result, "autopay_id", "util-autopay-001")
		amount := resultFloat(result, "amount", 150)
		card := resultString(result, "card_last4", "1234")
		prefix := "mem.autopay." + autopayID

		return []Update{
			{Key: prefix + ".active", Op: OpSet, Value: true},
			{Key: prefix + ".card", Op: OpSet, Value: card},
			{Key: prefix + ".amount", Op: OpSet, Value: amount},
			{Key: prefix + ".next_charge", Op: OpSet, Value: time.Now().AddDate(0, 0, 30).Format(time.RFC3339)},
		}
	})

	// D4 card replacement activates the new card.
	RegisterCompletionEffect("D4", func(e *Engine, result map[string]interface{}) []Update {
		newCard := resultString(result, "new_card_last4", "5678")

		return []Update{
			{Key: "env.cards." + newCard + ".state", Op: OpSet, Value: "active"},
			{Key: "mem.banking.cards.active", Op: OpSet, Value: newCard},
		}
	})

	// M1 lost card: block the card and deactivate autopays riding on it.
	RegisterCompletionEffect("M1", func(e *Engine, result map[string]interface{}) []Update {
		card := resultString(result, "card_last4", "1234")

		return []Update{
			{Key: "env.cards." + card + ".state", Op: OpSet, Value: "blocked"},
			{Key: "mem.autopay.all_on_card_" + card + ".active", Op: OpSet, Value: false},
		}
	})

	// H1 bill check records the utility amounts.
	RegisterCompletionEffect("H1", func(e *Engine, result map[string]interface{}) []Update {
		return []Update{
			{Key: "mem.bills.electricity.amount", Op: OpSet, Value: 150.00},
			{Key: "mem.bills.electricity.due_date", Op: OpSet, Value: "2025-12-31"},
			{Key: "mem.bills.electricity.id", Op: OpSet, Value: "UTIL-2025-E1"},
			{Key: "mem.bills.water.amount", Op: OpSet, Value: 45.50},
		}
	})

	// H2 permit application.
	RegisterCompletionEffect("H2", func(e *Engine, result map[string]interface{}) []Update {
		permitID := resultString(result, "permit_id", "RP-2024-77")

		return []Update{
			{Key: "mem.permits.last.id", Op: OpSet, Value: permitID},
			{Key: "mem.permits.last.status", Op: OpSet, Value: "active"},
		}
	})

	// B5 order tracking stamps the last tracked time.
	RegisterCompletionEffect("B5", func(e *Engine, result map[string]interface{}) []Update {
		orderID, _ := e.store.GetMemory("orders.last.id", "O-10001").(string)

		return []Update{
			{Key: fmt.Sprintf("mem.orders.%s.last_tracked", orderID), Op: OpSet, Value: time.Now().Format(time.RFC3339)},
		}
	})

	// K2 expense split settles.
	RegisterCompletionEffect("K2", func(e *Engine, result map[string]interface{}) []Update {
		return []Update{
			{Key: "mem.settlements.last.status", Op: OpSet, Value: "completed"},
		}
	})
}
