package runner

// extractTaskResult pulls the family-relevant fields out of an
// execution outcome. This is the data other tasks see through state
// propagation; everything else in the raw outcome stays private to the
// executor.
func extractTaskResult(family string, outcome *RawOutcome) map[string]interface{} {
	result := make(map[string]interface{})
	if len(outcome.ExtractedData) > 0 {
		result["extracted_data"] = outcome.ExtractedData
	}

	mem := func(key string, def interface{}) interface{} {
		if v, ok := outcome.MemoryUpdates[key]; ok {
			return v
		}
		return def
	}

	switch family {
	case "B1":
		result["order_id"] = mem("orders.last.id", "O-10001")
		result["total"] = mem("orders.last.total", 49.99)

	case "C2":
		result["return_id"] = mem("returns.last.id", "R-50001")
		result["order_id"] = mem("returns.last.order_id", "O-10001")
		result["refund_amount"] = mem("returns.last.refund_amount", 49.99)

	case "D1":
		result["balance"] = mem("banking.balance.checking", 0)

	case "D3":
		result["autopay_id"] = mem("autopay.id", "util-autopay-001")
		result["amount"] = mem("autopay.amount", 150)
		result["card_last4"] = mem("autopay.card", "1234")

	case "D4":
		result["old_card_last4"] = mem("banking.cards.old", "1234")
		result["new_card_last4"] = mem("banking.cards.new", "5678")

	case "M1":
		result["card_last4"] = mem("banking.cards.blocked", "1234")

	case "G1":
		result["appointment_id"] = mem("health.appointment.last.id", "APT-9001")

	case "D2":
		result["category"] = mem("budget.category", "food")
		result["limit"] = mem("budget.limit", 600)

	case "H2":
		result["permit_id"] = mem("permits.last.id", "RP-2024-77")
	}

	return result
}
