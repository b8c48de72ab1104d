package prevent

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"warden/core"
	"warden/metrics"

	"go.uber.org/zap"
)

// ruleLockStripes bounds the lock table. Unrelated rules hash to different
// stripes, so their evaluations proceed in parallel; rules never serialize on
// a single global lock.
const ruleLockStripes = 64

// RuleProvider hands out the current enabled mitigation rules.
type RuleProvider interface {
	Rules() []*core.MitigationRule
}

// WindowCounter is the detection store surface the engine needs for
// attempt-window checks.
type WindowCounter interface {
	CountWindow(sourceID string, category core.Category, window time.Duration, now time.Time) int
}

// Evaluation is the outcome of matching one detection against the rule set.
type Evaluation struct {
	// FiredRuleIDs lists every qualifying rule, sorted by rule ID.
	FiredRuleIDs []string
	// Actions is the deduplicated union of the firing rules' actions, with
	// targets resolved, in first-seen order across rules.
	Actions []core.Action
}

// Engine matches detections against the enabled mitigation rules. Cooldown
// checks, attempt-window counting, and the lastTriggered update run as one
// critical section per rule so two concurrent submissions can never both see
// "cooldown eligible" and double-fire within the same cooldown window.
type Engine struct {
	rules  RuleProvider
	store  WindowCounter
	locks  [ruleLockStripes]sync.Mutex
	logger *zap.SugaredLogger
	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a mitigation engine.
func NewEngine(rules RuleProvider, store WindowCounter, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		rules:  rules,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (e *Engine) stripe(ruleID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(ruleID))
	return &e.locks[h.Sum32()%ruleLockStripes]
}

// Evaluate returns every qualifying rule's contribution for the detection.
// All qualifying rules fire, not a single best match; each firing rule's
// lastTriggered and triggerCount are updated inside its critical section.
func (e *Engine) Evaluate(d *core.Detection) Evaluation {
	rules := e.rules.Rules()
	// Deterministic firing and dedup order regardless of provider order.
	sorted := make([]*core.MitigationRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var eval Evaluation
	seen := make(map[core.ActionKind]struct{})

	for _, rule := range sorted {
		if !e.fire(rule, d) {
			continue
		}
		eval.FiredRuleIDs = append(eval.FiredRuleIDs, rule.ID)
		metrics.RulesFired.WithLabelValues(rule.ID).Inc()
		e.logger.Infow("Mitigation rule fired",
			"rule", rule.ID,
			"detection_id", d.ID,
			"source_id", d.SourceID,
			"severity", d.Severity)

		for _, kind := range rule.Actions {
			if _, dup := seen[kind]; dup {
				continue
			}
			seen[kind] = struct{}{}
			eval.Actions = append(eval.Actions, core.Action{
				Kind:   kind,
				Target: resolveTarget(kind, d),
			})
		}
	}
	return eval
}

// fire decides whether a single rule qualifies and, if so, consumes its
// cooldown. Cooldown check, window count, and the lastTriggered update run as
// one critical section under the rule's stripe lock.
func (e *Engine) fire(rule *core.MitigationRule, d *core.Detection) bool {
	if !rule.Enabled {
		return false
	}
	if !rule.Category.Matches(d.Category) {
		return false
	}
	if !d.Severity.AtLeast(rule.SeverityThreshold) {
		return false
	}
	if !rule.MatchesSubject(d) {
		return false
	}

	lock := e.stripe(rule.ID)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()
	if !rule.CooldownEligible(now) {
		return false
	}

	if c := rule.Conditions; c.HasAttemptWindow() {
		// The detection is stored before mitigation runs, so the count is
		// inclusive of the triggering detection.
		count := e.store.CountWindow(d.SourceID, d.Category, c.Window, now)
		if count < c.MaxAttempts {
			return false
		}
	}

	rule.LastTriggered = now
	rule.TriggerCount++
	return true
}

func resolveTarget(kind core.ActionKind, d *core.Detection) string {
	if kind.TargetsSubject() && d.SubjectID != "" {
		return d.SubjectID
	}
	return d.SourceID
}
