package detect

import (
	"fmt"
	"strconv"
	"strings"

	"warden/core"

	"go.uber.org/zap"
)

// Candidate is one scored detection candidate produced by the pattern matcher
// or an independent scorer.
type Candidate struct {
	PatternID  string
	Source     string
	Category   core.Category
	Confidence float64
}

// CatalogProvider hands out the current pattern set.
type CatalogProvider interface {
	Patterns() []core.Pattern
}

// PatternMatcher evaluates events against the pattern catalog. Deterministic
// and side-effect-free; safe for concurrent use since the catalog snapshot is
// read-only.
type PatternMatcher struct {
	catalog CatalogProvider
	logger  *zap.SugaredLogger
}

// NewPatternMatcher creates a matcher over the given catalog provider.
func NewPatternMatcher(catalog CatalogProvider, logger *zap.SugaredLogger) *PatternMatcher {
	return &PatternMatcher{catalog: catalog, logger: logger}
}

// Match returns all firing (pattern, confidence) candidates for the event.
// A pattern fires when its indicator ratio, plus the protected-subject bonus
// where applicable, reaches its confidence threshold.
func (m *PatternMatcher) Match(event *core.Event) []Candidate {
	var candidates []Candidate
	patterns := m.catalog.Patterns()
	for i := range patterns {
		pattern := &patterns[i]
		if !pattern.Enabled || !pattern.Category.Matches(event.Category) {
			continue
		}
		confidence := m.score(pattern, event)
		if confidence >= pattern.ConfidenceThreshold {
			candidates = append(candidates, Candidate{
				PatternID:  pattern.ID,
				Source:     "pattern:" + pattern.ID,
				Category:   pattern.Category.Resolve(event.Category),
				Confidence: confidence,
			})
		}
	}
	return candidates
}

func (m *PatternMatcher) score(pattern *core.Pattern, event *core.Event) float64 {
	matched := 0
	for i := range pattern.Indicators {
		ok, err := m.evaluate(&pattern.Indicators[i], event)
		if err != nil {
			m.logger.Warnw("Indicator evaluation failed",
				"pattern", pattern.ID,
				"indicator", pattern.Indicators[i].ID,
				"error", err)
			continue
		}
		if ok {
			matched++
		}
	}

	confidence := float64(matched) / float64(len(pattern.Indicators))
	if pattern.ProtectedSubjectBonus && event.HasProtectedSubject() {
		confidence += core.ProtectedSubjectBonus
	}
	return core.ClampConfidence(confidence)
}

// evaluate applies one indicator predicate to the event. The reserved fields
// source_id, destination_id and subject_id address the event envelope; every
// other field addresses the attribute map.
func (m *PatternMatcher) evaluate(ind *core.Indicator, event *core.Event) (bool, error) {
	value, present := resolveField(ind.Field, event)

	switch ind.Operator {
	case core.OpExists:
		return present, nil
	case core.OpEquals:
		return present && looseEquals(value, ind.Value), nil
	case core.OpNotEquals:
		return present && !looseEquals(value, ind.Value), nil
	case core.OpContains:
		return present && strings.Contains(stringify(value), stringify(ind.Value)), nil
	case core.OpStartsWith:
		return present && strings.HasPrefix(stringify(value), stringify(ind.Value)), nil
	case core.OpEndsWith:
		return present && strings.HasSuffix(stringify(value), stringify(ind.Value)), nil
	case core.OpRegex:
		if !present {
			return false, nil
		}
		if ind.Regex == nil {
			return false, fmt.Errorf("indicator %s: regex not compiled", ind.ID)
		}
		matched, err := ind.Regex.MatchString(stringify(value))
		if err != nil {
			// Timeout or engine failure; the indicator abstains.
			return false, fmt.Errorf("indicator %s: regex match: %w", ind.ID, err)
		}
		return matched, nil
	case core.OpGreaterThan, core.OpLessThan, core.OpGreaterThanOrEqual, core.OpLessThanOrEqual:
		if !present {
			return false, nil
		}
		left, lok := toNumber(value)
		right, rok := toNumber(ind.Value)
		if !lok || !rok {
			return false, nil
		}
		switch ind.Operator {
		case core.OpGreaterThan:
			return left > right, nil
		case core.OpLessThan:
			return left < right, nil
		case core.OpGreaterThanOrEqual:
			return left >= right, nil
		default:
			return left <= right, nil
		}
	default:
		return false, fmt.Errorf("unknown operator %q", ind.Operator)
	}
}

func resolveField(field string, event *core.Event) (interface{}, bool) {
	switch field {
	case "source_id":
		return event.SourceID, event.SourceID != ""
	case "destination_id":
		return event.DestinationID, event.DestinationID != ""
	case "subject_id":
		return event.SubjectID, event.SubjectID != ""
	default:
		v, ok := event.Attributes[field]
		return v, ok
	}
}

// looseEquals compares numerically when both sides convert to numbers,
// otherwise by string form. YAML integers and JSON floats must compare equal.
func looseEquals(a, b interface{}) bool {
	if an, aok := toNumber(a); aok {
		if bn, bok := toNumber(b); bok {
			return an == bn
		}
	}
	return stringify(a) == stringify(b)
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
