package runner

import (
	"time"
)

// ChainResult aggregates a sequential run of several tasks.
type ChainResult struct {
	Tasks       []*Result `json:"tasks"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Blocked     int       `json:"blocked"`
	TimeElapsed float64   `json:"time_elapsed"`
}

// RunChain runs the named tasks in order. Later tasks see the memory
// and environment state left behind by earlier ones, which is how
// dependent tasks find their upstream results. When stopOnFailure is
// set, the first non-completed task ends the chain; remaining tasks
// are not run and are not counted.
func (r *Runner) RunChain(names []string, stopOnFailure bool) *ChainResult {
	chain := &ChainResult{}
	start := time.Now()

	for _, name := range names {
		res, err := r.RunTaskByName(name)
		if err != nil {
			r.log.Error("Chain: could not run %s: %v", name, err)
			res = &Result{TaskID: name, FinalState: StateFailed, Error: err.Error()}
		}
		chain.Tasks = append(chain.Tasks, res)

		switch res.FinalState {
		case StateCompleted:
			chain.Completed++
		case StateBlocked:
			chain.Blocked++
		default:
			chain.Failed++
		}

		if res.FinalState != StateCompleted {
			r.log.Warn("Chain: %s ended %s", res.TaskID, res.FinalState)
			if stopOnFailure {
				break
			}
		} else {
			r.log.Info("Chain: %s completed in %.1fs", res.TaskID, res.TimeElapsed)
		}
	}

	chain.TimeElapsed = time.Since(start).Seconds()
	return chain
}
