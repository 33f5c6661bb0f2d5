package state

import (
	"fmt"

	"github.com/codefionn/webtaskbench/internal/task"
)

// ResourceCheck validates a per-family constraint on simulated world
// resources before a task executes. A non-nil error is the violation.
type ResourceCheck func(e *Engine, spec *task.Spec) error

// resourceChecks is a strategy map keyed by task family; new families
// register independently instead of growing inline branching.
var resourceChecks = map[string]ResourceCheck{}

// RegisterResourceCheck installs a constraint for a task family,
// replacing any previous one.
func RegisterResourceCheck(family string, check ResourceCheck) {
	resourceChecks[family] = check
}

// CheckResourceConstraints runs the family's registered constraint, if
// any. Families without a rule pass.
func (e *Engine) CheckResourceConstraints(spec *task.Spec) error {
	check, ok := resourceChecks[spec.Family()]
	if !ok {
		return nil
	}
	return check(e, spec)
}

func init() {
	// B1 shopping needs balance covering the declared max price, and
	// the targeted product in stock when the spec names one.
	RegisterResourceCheck("B1", func(e *Engine, spec *task.Spec) error {
		maxPrice := spec.InputFloat("max_price", 0)
		if maxPrice > 0 {
			balance, err := e.store.EnvState("banking.balance.checking")
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStateUpdate, err)
			}
			if b, ok := toFloat(balance); ok && b < maxPrice {
				return fmt.Errorf("Insufficient balance: $%.2f < $%.2f", b, maxPrice)
			}
		}

		if sku := spec.InputString("sku", ""); sku != "" {
			stock, err := e.store.EnvState(fmt.Sprintf("products.%s.stock", sku))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStateUpdate, err)
			}
			if n, ok := toFloat(stock); ok && n == 0 {
				return fmt.Errorf("Product %s is out of stock", sku)
			}
		}
		return nil
	})

	// D3 autopay needs balance covering the autopay amount.
	RegisterResourceCheck("D3", func(e *Engine, spec *task.Spec) error {
		amount := spec.InputFloat("amount", 150)
		balance, err := e.store.EnvState("banking.balance.checking")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStateUpdate, err)
		}
		if b, ok := toFloat(balance); ok && b < amount {
			return fmt.Errorf("Insufficient balance for autopay: $%.2f < $%.2f", b, amount)
		}
		return nil
	})

	// C2 returns need a returnable order.
	RegisterResourceCheck("C2", func(e *Engine, spec *task.Spec) error {
		orderID := spec.InputString("order_id", "")
		if orderID == "" {
			orderID, _ = e.store.GetMemory("orders.last.id", "").(string)
		}
		if orderID == "" {
			return fmt.Errorf("No order found to return")
		}

		stateValue, err := e.store.EnvState(fmt.Sprintf("orders.%s.state", orderID))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStateUpdate, err)
		}
		if s, ok := stateValue.(string); ok && s != "" && s != "confirmed" && s != "delivered" {
			return fmt.Errorf("Order %s cannot be returned (state: %s)", orderID, s)
		}
		return nil
	})
}
