package migrator

import "time"

// Result is the overall result of a run.
type Result string

// Run results.
const (
	ResultSuccess Result = "success"
	// ResultPartial is reported when the run was interrupted between units.
	ResultPartial Result = "partial"
	ResultFailed  Result = "failed"
)

// OutcomeKind is the outcome of a single unit in a run.
type OutcomeKind string

// Unit outcomes.
const (
	OutcomeApplied  OutcomeKind = "applied"
	OutcomeReverted OutcomeKind = "reverted"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the outcome of a unit considered by a run.
type Outcome struct {
	Version  uint64
	Name     string
	Result   OutcomeKind
	Duration time.Duration
	// Err is set if Result is OutcomeFailed.
	Err *ExecutionError
}

// Report summarizes a run.
type Report struct {
	RunID      string
	Direction  Direction
	Result     Result
	Outcomes   []Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Count returns the number of units with the given outcome.
func (r *Report) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result == kind {
			n++
		}
	}
	return n
}
