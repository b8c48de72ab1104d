package core

import (
	"fmt"
	"time"
)

// RuleConditions holds the optional qualifying conditions of a mitigation rule.
type RuleConditions struct {
	// MaxAttempts and Window gate the rule on repeated detections: the rule only
	// qualifies once at least MaxAttempts detections for (sourceID, category)
	// exist within the trailing Window, inclusive of the triggering detection.
	MaxAttempts int           `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Window      time.Duration `json:"window,omitempty" yaml:"window,omitempty"`

	// Subject-context predicates. A nil bound is unconstrained. RequireSubject
	// makes the rule skip detections with no subject at all.
	RequireSubject bool `json:"require_subject,omitempty" yaml:"require_subject,omitempty"`
	MinSubjectAge  *int `json:"min_subject_age,omitempty" yaml:"min_subject_age,omitempty"`
	MaxSubjectAge  *int `json:"max_subject_age,omitempty" yaml:"max_subject_age,omitempty"`
}

// HasAttemptWindow reports whether the rule carries a maxAttempts/window condition.
func (c *RuleConditions) HasAttemptWindow() bool {
	return c != nil && c.MaxAttempts > 0 && c.Window > 0
}

// MitigationRule maps detection characteristics to automated response actions,
// subject to a cooldown. LastTriggered and TriggerCount are mutated exclusively
// by the mitigation engine under its per-rule critical section.
type MitigationRule struct {
	ID                string          `json:"id" yaml:"id"`
	Name              string          `json:"name" yaml:"name"`
	Description       string          `json:"description,omitempty" yaml:"description,omitempty"`
	Category          Category        `json:"category" yaml:"category"`
	SeverityThreshold Severity        `json:"severity_threshold" yaml:"severity_threshold"`
	Conditions        *RuleConditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions           []ActionKind    `json:"actions" yaml:"actions"`
	Enabled           bool            `json:"enabled" yaml:"enabled"`
	CooldownPeriod    time.Duration   `json:"cooldown_period" yaml:"cooldown_period"`

	LastTriggered time.Time `json:"last_triggered,omitempty" yaml:"-"`
	TriggerCount  uint64    `json:"trigger_count" yaml:"-"`
}

// CooldownEligible reports whether enough time has passed since the rule last
// fired. A zero LastTriggered means the rule has never fired. Negative elapsed
// durations from clock skew are clamped to zero instead of wrapping.
func (r *MitigationRule) CooldownEligible(now time.Time) bool {
	if r.LastTriggered.IsZero() {
		return true
	}
	elapsed := now.Sub(r.LastTriggered)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed >= r.CooldownPeriod
}

// MatchesSubject evaluates the rule's subject-context predicates against a
// detection's subject metadata.
func (r *MitigationRule) MatchesSubject(d *Detection) bool {
	c := r.Conditions
	if c == nil {
		return true
	}
	if c.RequireSubject && d.SubjectID == "" {
		return false
	}
	if c.MinSubjectAge != nil || c.MaxSubjectAge != nil {
		if d.SubjectAge == nil {
			return false
		}
		if c.MinSubjectAge != nil && *d.SubjectAge < *c.MinSubjectAge {
			return false
		}
		if c.MaxSubjectAge != nil && *d.SubjectAge > *c.MaxSubjectAge {
			return false
		}
	}
	return true
}

// Validate checks structural validity of the rule definition.
func (r *MitigationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule missing id")
	}
	if r.Category == "" {
		return fmt.Errorf("rule %s: missing category", r.ID)
	}
	if !r.SeverityThreshold.IsValid() {
		return fmt.Errorf("rule %s: invalid severity_threshold %q", r.ID, r.SeverityThreshold)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %s: requires at least one action", r.ID)
	}
	for _, kind := range r.Actions {
		if !kind.IsValid() {
			return fmt.Errorf("rule %s: unknown action kind %q", r.ID, kind)
		}
	}
	if r.CooldownPeriod < 0 {
		return fmt.Errorf("rule %s: negative cooldown_period", r.ID)
	}
	if c := r.Conditions; c != nil {
		if c.MaxAttempts < 0 {
			return fmt.Errorf("rule %s: negative max_attempts", r.ID)
		}
		if c.Window < 0 {
			return fmt.Errorf("rule %s: negative window", r.ID)
		}
		if (c.MaxAttempts > 0) != (c.Window > 0) {
			return fmt.Errorf("rule %s: max_attempts and window must be set together", r.ID)
		}
		if c.MinSubjectAge != nil && c.MaxSubjectAge != nil && *c.MinSubjectAge > *c.MaxSubjectAge {
			return fmt.Errorf("rule %s: min_subject_age exceeds max_subject_age", r.ID)
		}
	}
	return nil
}
