package core

import "time"

// Action is one concrete response instance, permanently recorded on the
// detection that triggered it. Append-only once created.
type Action struct {
	Kind      ActionKind `json:"kind" msgpack:"kind"`
	Target    string     `json:"target" msgpack:"target"`
	AppliedAt time.Time  `json:"applied_at" msgpack:"applied_at"`
}

// ActionOutcome is the per-action dispatch status.
type ActionOutcome string

const (
	// OutcomeApplied indicates the side effect took place
	OutcomeApplied ActionOutcome = "applied"
	// OutcomeAlreadyApplied indicates an idempotent no-op (e.g. target already blocked);
	// the action is still recorded on the detection for audit
	OutcomeAlreadyApplied ActionOutcome = "already_applied"
	// OutcomeFailed indicates the action could not be applied
	OutcomeFailed ActionOutcome = "failed"
)

// ActionResult reports the outcome of one dispatched action. Failures are
// per-action and never abort the rest of the batch.
type ActionResult struct {
	Kind     ActionKind    `json:"kind"`
	Target   string        `json:"target"`
	Outcome  ActionOutcome `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the action application failed.
func (r ActionResult) Failed() bool {
	return r.Outcome == OutcomeFailed
}
