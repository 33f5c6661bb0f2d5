// Package dsl interprets the declarative success-criteria language used
// by task specifications.
//
// An expression is either an atom querying the page, the memory store
// or the environment API:
//
//	exists("#order-id")
//	text("#order-status") == "confirmed"
//	attr("#pay-btn", "disabled") == "true"
//	count(".cart-item") >= 2
//	url().includes("/order/confirmation")
//	mem('orders.last.id') != ''
//	json('env', 'orders.O-10001.state') == 'confirmed'
//
// or a combinator wrapping comma-separated sub-expressions:
//
//	ALL[...]  ANY[...]  NOT[...]
//	WITHIN(seconds, expr)  EVENTUALLY(expr)  STABLE(seconds, expr)
package dsl

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/webtaskbench/internal/logger"
)

// ErrUnknownExpression marks input no atom or combinator matches.
var ErrUnknownExpression = errors.New("unknown assertion expression")

// pollInterval is the default sampling interval of the temporal
// combinators.
const pollInterval = 500 * time.Millisecond

// eventuallyWindow is the implicit deadline of EVENTUALLY(expr).
const eventuallyWindow = 30

// Evaluator interprets assertion expressions against a page, the
// benchmark memory and the environment API.
type Evaluator struct {
	page   PageInspector
	memory MemoryReader
	env    EnvQuerier
	clock  Clock
	poll   time.Duration
	log    *logger.Logger
}

// New creates an evaluator. A nil page installs the restricted
// null page used for precondition sandboxing; a nil clock uses the
// system clock.
func New(page PageInspector, memory MemoryReader, env EnvQuerier, log *logger.Logger) *Evaluator {
	if page == nil {
		page = NullPage()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Evaluator{
		page:   page,
		memory: memory,
		env:    env,
		clock:  SystemClock(),
		poll:   pollInterval,
		log:    log.WithPrefix("dsl"),
	}
}

// WithClock replaces the clock driving WITHIN/EVENTUALLY/STABLE.
func (e *Evaluator) WithClock(clock Clock) *Evaluator {
	e.clock = clock
	return e
}

// WithPollInterval adjusts the temporal-combinator sampling interval.
// Non-positive values keep the default.
func (e *Evaluator) WithPollInterval(d time.Duration) *Evaluator {
	if d > 0 {
		e.poll = d
	}
	return e
}

// WithSources replaces the memory and environment collaborators, so
// criteria can evaluate against a remote environment API.
func (e *Evaluator) WithSources(memory MemoryReader, env EnvQuerier) *Evaluator {
	e.memory = memory
	e.env = env
	return e
}

// Evaluate interprets one expression. False means the assertion does
// not hold; an error means the expression itself is malformed or an
// operand could not be coerced.
func (e *Evaluator) Evaluate(expr string) (bool, error) {
	expr = strings.TrimSpace(expr)

	switch {
	case strings.HasPrefix(expr, "ALL["):
		return e.evalAll(expr)
	case strings.HasPrefix(expr, "ANY["):
		return e.evalAny(expr)
	case strings.HasPrefix(expr, "NOT["):
		return e.evalNot(expr)
	case strings.HasPrefix(expr, "WITHIN("):
		return e.evalWithin(expr)
	case strings.HasPrefix(expr, "EVENTUALLY("):
		return e.evalEventually(expr)
	case strings.HasPrefix(expr, "STABLE("):
		return e.evalStable(expr)
	}

	return e.evalAtom(expr)
}

// evalAll short-circuits on the first false sub-expression.
func (e *Evaluator) evalAll(expr string) (bool, error) {
	for _, sub := range splitArgs(expr[len("ALL[") : len(expr)-1]) {
		ok, err := e.Evaluate(sub)
		if err != nil {
			return false, err
		}
		if !ok {
			e.log.Debug("ALL failed on: %s", sub)
			return false, nil
		}
	}
	return true, nil
}

// evalAny short-circuits on the first true sub-expression.
func (e *Evaluator) evalAny(expr string) (bool, error) {
	for _, sub := range splitArgs(expr[len("ANY[") : len(expr)-1]) {
		ok, err := e.Evaluate(sub)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) evalNot(expr string) (bool, error) {
	ok, err := e.Evaluate(strings.TrimSpace(expr[len("NOT[") : len(expr)-1]))
	if err != nil {
		return false, err
	}
	return !ok, nil
}

var withinRe = regexp.MustCompile(`(?s)^WITHIN\((\d+),\s*(.+)\)$`)
var stableRe = regexp.MustCompile(`(?s)^STABLE\((\d+),\s*(.+)\)$`)

// evalWithin polls the sub-expression until it holds or the deadline
// elapses. Errors during a poll count as "not yet true". The
// sub-expression is always sampled at least once, so WITHIN(0, expr)
// evaluates expr exactly once.
func (e *Evaluator) evalWithin(expr string) (bool, error) {
	m := withinRe.FindStringSubmatch(expr)
	if m == nil {
		return false, fmt.Errorf("invalid WITHIN syntax: %s", expr)
	}
	seconds, _ := strconv.Atoi(m[1])
	sub := strings.TrimSpace(m[2])

	deadline := e.clock.Now().Add(time.Duration(seconds) * time.Second)
	for {
		ok, err := e.Evaluate(sub)
		if err == nil && ok {
			return true, nil
		}
		if !e.clock.Now().Before(deadline) {
			return false, nil
		}
		e.clock.Sleep(e.poll)
	}
}

// evalEventually is sugar for a 30 second WITHIN.
func (e *Evaluator) evalEventually(expr string) (bool, error) {
	sub := strings.TrimSpace(expr[len("EVENTUALLY(") : len(expr)-1])
	return e.evalWithin(fmt.Sprintf("WITHIN(%d, %s)", eventuallyWindow, sub))
}

// evalStable requires the sub-expression to hold on every sample over
// the window; the first false or erroring sample fails immediately.
func (e *Evaluator) evalStable(expr string) (bool, error) {
	m := stableRe.FindStringSubmatch(expr)
	if m == nil {
		return false, fmt.Errorf("invalid STABLE syntax: %s", expr)
	}
	seconds, _ := strconv.Atoi(m[1])
	sub := strings.TrimSpace(m[2])

	deadline := e.clock.Now().Add(time.Duration(seconds) * time.Second)
	for e.clock.Now().Before(deadline) {
		ok, err := e.Evaluate(sub)
		if err != nil || !ok {
			return false, nil
		}
		e.clock.Sleep(e.poll)
	}
	return true, nil
}

// splitArgs splits comma-separated sub-expressions, honoring nesting:
// commas inside brackets or parentheses never split.
func splitArgs(content string) []string {
	var args []string
	var current strings.Builder
	depth := 0

	for _, r := range content {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case ',':
			if depth == 0 {
				if s := strings.TrimSpace(current.String()); s != "" {
					args = append(args, s)
				}
				current.Reset()
				continue
			}
		}
		current.WriteRune(r)
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		args = append(args, s)
	}
	return args
}
