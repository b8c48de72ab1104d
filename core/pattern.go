package core

import (
	"fmt"

	"github.com/dlclark/regexp2"
)

// Indicator operators supported by pattern predicates.
const (
	OpEquals             = "equals"
	OpNotEquals          = "not_equals"
	OpContains           = "contains"
	OpStartsWith         = "starts_with"
	OpEndsWith           = "ends_with"
	OpRegex              = "regex"
	OpExists             = "exists"
	OpGreaterThan        = "greater_than"
	OpLessThan           = "less_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThanOrEqual    = "less_than_or_equal"
)

// Indicator is a single predicate inside a pattern. Field names address the
// event attribute map; the reserved fields source_id, destination_id and
// subject_id address the event envelope.
type Indicator struct {
	ID       string      `json:"id" yaml:"id"`
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	// Regex holds the compiled pattern for the regex operator. Compiled by the
	// catalog loader with a match timeout so a pathological pattern cannot stall
	// evaluation (ReDoS).
	Regex *regexp2.Regexp `json:"-" yaml:"-"`
}

// Validate checks structural validity of the indicator definition.
func (i *Indicator) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("indicator missing id")
	}
	if i.Field == "" {
		return fmt.Errorf("indicator %s: missing field", i.ID)
	}
	switch i.Operator {
	case OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith,
		OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		if i.Value == nil {
			return fmt.Errorf("indicator %s: operator %s requires a value", i.ID, i.Operator)
		}
	case OpRegex:
		if _, ok := i.Value.(string); !ok {
			return fmt.Errorf("indicator %s: regex operator requires a string value", i.ID)
		}
	case OpExists:
		// no value required
	case "":
		return fmt.Errorf("indicator %s: missing operator", i.ID)
	default:
		return fmt.Errorf("indicator %s: unknown operator %q", i.ID, i.Operator)
	}
	return nil
}

// Pattern is a named, static attack/abuse signature. Patterns are immutable at
// runtime; the catalog loader replaces the whole set atomically on reload.
type Pattern struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Category    Category    `json:"category" yaml:"category"`
	Indicators  []Indicator `json:"indicators" yaml:"indicators"`
	// ConfidenceThreshold is the minimum indicator-ratio confidence at which
	// this pattern fires, in [0,1].
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// ProtectedSubjectBonus adds 0.1 confidence when the event's subject is a
	// minor or elderly person.
	ProtectedSubjectBonus bool     `json:"protected_subject_bonus,omitempty" yaml:"protected_subject_bonus,omitempty"`
	Enabled               bool     `json:"enabled" yaml:"enabled"`
	Tags                  []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Validate checks structural validity of the pattern definition.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pattern missing id")
	}
	if p.Category == "" {
		return fmt.Errorf("pattern %s: missing category", p.ID)
	}
	if len(p.Indicators) == 0 {
		return fmt.Errorf("pattern %s: requires at least one indicator", p.ID)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("pattern %s: confidence_threshold %v outside [0,1]", p.ID, p.ConfidenceThreshold)
	}
	for i := range p.Indicators {
		if err := p.Indicators[i].Validate(); err != nil {
			return fmt.Errorf("pattern %s: %w", p.ID, err)
		}
	}
	return nil
}
