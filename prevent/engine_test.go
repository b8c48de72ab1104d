package prevent

import (
	"sync"
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticRules struct {
	rules []*core.MitigationRule
}

func (s staticRules) Rules() []*core.MitigationRule { return s.rules }

type fixedCounter struct {
	count int
}

func (f fixedCounter) CountWindow(sourceID string, category core.Category, window time.Duration, now time.Time) int {
	return f.count
}

func blockRule(id string) *core.MitigationRule {
	return &core.MitigationRule{
		ID:                id,
		Name:              id,
		Category:          core.CategoryLogin,
		SeverityThreshold: core.SeverityHigh,
		Actions:           []core.ActionKind{core.ActionBlock, core.ActionAlert},
		Enabled:           true,
		CooldownPeriod:    5 * time.Minute,
	}
}

func highDetection() *core.Detection {
	e := core.NewEvent()
	e.SourceID = "10.0.0.1"
	e.Category = core.CategoryLogin
	return core.NewDetection(e, core.CategoryLogin, 0.8)
}

func newTestEngine(t *testing.T, counter WindowCounter, rules ...*core.MitigationRule) *Engine {
	t.Helper()
	return NewEngine(staticRules{rules: rules}, counter, zaptest.NewLogger(t).Sugar())
}

func TestEvaluateQualifyingRuleFires(t *testing.T) {
	rule := blockRule("r1")
	engine := newTestEngine(t, fixedCounter{}, rule)

	eval := engine.Evaluate(highDetection())
	assert.Equal(t, []string{"r1"}, eval.FiredRuleIDs)
	require.Len(t, eval.Actions, 2)
	assert.Equal(t, core.ActionBlock, eval.Actions[0].Kind)
	assert.Equal(t, core.ActionAlert, eval.Actions[1].Kind)
	assert.Equal(t, "10.0.0.1", eval.Actions[0].Target)
	assert.False(t, rule.LastTriggered.IsZero())
	assert.Equal(t, uint64(1), rule.TriggerCount)
}

func TestEvaluateSeverityGate(t *testing.T) {
	engine := newTestEngine(t, fixedCounter{}, blockRule("r1"))

	e := core.NewEvent()
	e.SourceID = "10.0.0.1"
	e.Category = core.CategoryLogin
	medium := core.NewDetection(e, core.CategoryLogin, 0.6)

	eval := engine.Evaluate(medium)
	assert.Empty(t, eval.FiredRuleIDs, "Medium must not clear a High threshold")

	critical := core.NewDetection(e, core.CategoryLogin, 0.95)
	eval = engine.Evaluate(critical)
	assert.Equal(t, []string{"r1"}, eval.FiredRuleIDs, "severity above the threshold qualifies")
}

func TestEvaluateSkipsDisabledAndOtherCategories(t *testing.T) {
	disabled := blockRule("r1")
	disabled.Enabled = false
	network := blockRule("r2")
	network.Category = core.CategoryNetwork
	engine := newTestEngine(t, fixedCounter{}, disabled, network)

	eval := engine.Evaluate(highDetection())
	assert.Empty(t, eval.FiredRuleIDs)
}

func TestEvaluateWildcardCategoryRule(t *testing.T) {
	rule := blockRule("r1")
	rule.Category = core.CategoryWildcard
	engine := newTestEngine(t, fixedCounter{}, rule)

	eval := engine.Evaluate(highDetection())
	assert.Equal(t, []string{"r1"}, eval.FiredRuleIDs)
}

func TestEvaluateCooldown(t *testing.T) {
	rule := blockRule("r1")
	engine := newTestEngine(t, fixedCounter{}, rule)

	base := time.Now()
	engine.now = func() time.Time { return base }
	assert.Len(t, engine.Evaluate(highDetection()).FiredRuleIDs, 1)

	engine.now = func() time.Time { return base.Add(rule.CooldownPeriod - time.Second) }
	assert.Empty(t, engine.Evaluate(highDetection()).FiredRuleIDs, "inside cooldown the rule stays silent")

	engine.now = func() time.Time { return base.Add(rule.CooldownPeriod) }
	assert.Len(t, engine.Evaluate(highDetection()).FiredRuleIDs, 1, "cooldown boundary is inclusive")
	assert.Equal(t, uint64(2), rule.TriggerCount)
}

func TestEvaluateConcurrentSubmissionsFireOnce(t *testing.T) {
	rule := blockRule("r1")
	engine := newTestEngine(t, fixedCounter{}, rule)

	const submissions = 32
	fired := make(chan int, submissions)
	var wg sync.WaitGroup
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fired <- len(engine.Evaluate(highDetection()).FiredRuleIDs)
		}()
	}
	wg.Wait()
	close(fired)

	total := 0
	for n := range fired {
		total += n
	}
	assert.Equal(t, 1, total, "concurrent submissions must never double-fire within one cooldown")
	assert.Equal(t, uint64(1), rule.TriggerCount)
}

func TestEvaluateAttemptWindow(t *testing.T) {
	rule := blockRule("r1")
	rule.Conditions = &core.RuleConditions{MaxAttempts: 5, Window: 5 * time.Minute}

	engine := newTestEngine(t, fixedCounter{count: 4}, rule)
	assert.Empty(t, engine.Evaluate(highDetection()).FiredRuleIDs, "one short of the attempt threshold")
	assert.True(t, rule.LastTriggered.IsZero(), "a non-firing rule must not consume its cooldown")

	engine = newTestEngine(t, fixedCounter{count: 5}, rule)
	assert.Equal(t, []string{"r1"}, engine.Evaluate(highDetection()).FiredRuleIDs, "threshold count is inclusive")
}

func TestEvaluateSubjectPredicates(t *testing.T) {
	rule := blockRule("r1")
	min, max := 0, 17
	rule.Conditions = &core.RuleConditions{RequireSubject: true, MinSubjectAge: &min, MaxSubjectAge: &max}
	engine := newTestEngine(t, fixedCounter{}, rule)

	noSubject := highDetection()
	assert.Empty(t, engine.Evaluate(noSubject).FiredRuleIDs, "require_subject skips subjectless detections")

	child := highDetection()
	child.SubjectID = "user-7"
	age := 10
	child.SubjectAge = &age
	assert.Equal(t, []string{"r1"}, engine.Evaluate(child).FiredRuleIDs)

	engine.now = func() time.Time { return time.Now().Add(time.Hour) }
	adult := highDetection()
	adult.SubjectID = "user-8"
	adultAge := 30
	adult.SubjectAge = &adultAge
	assert.Empty(t, engine.Evaluate(adult).FiredRuleIDs, "subject outside the age bounds")
}

func TestEvaluateActionDedupAcrossRules(t *testing.T) {
	r1 := blockRule("a-block")
	r1.Actions = []core.ActionKind{core.ActionBlock, core.ActionAlert}
	r2 := blockRule("b-alert-throttle")
	r2.Actions = []core.ActionKind{core.ActionAlert, core.ActionThrottle}
	engine := newTestEngine(t, fixedCounter{}, r2, r1)

	eval := engine.Evaluate(highDetection())
	assert.Equal(t, []string{"a-block", "b-alert-throttle"}, eval.FiredRuleIDs, "rules fire in ID order")

	kinds := make([]core.ActionKind, 0, len(eval.Actions))
	for _, a := range eval.Actions {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []core.ActionKind{core.ActionBlock, core.ActionAlert, core.ActionThrottle}, kinds,
		"duplicate kinds collapse to first-seen order")
}

func TestEvaluateSubjectTargetedActions(t *testing.T) {
	rule := blockRule("r1")
	rule.Actions = []core.ActionKind{core.ActionBlock, core.ActionTerminateSession}
	engine := newTestEngine(t, fixedCounter{}, rule)

	d := highDetection()
	d.SubjectID = "user-42"
	eval := engine.Evaluate(d)
	require.Len(t, eval.Actions, 2)
	assert.Equal(t, "10.0.0.1", eval.Actions[0].Target, "block targets the source")
	assert.Equal(t, "user-42", eval.Actions[1].Target, "session actions target the subject")
}

func TestEvaluateSubjectTargetFallsBackToSource(t *testing.T) {
	rule := blockRule("r1")
	rule.Actions = []core.ActionKind{core.ActionQuarantine}
	engine := newTestEngine(t, fixedCounter{}, rule)

	eval := engine.Evaluate(highDetection())
	require.Len(t, eval.Actions, 1)
	assert.Equal(t, "10.0.0.1", eval.Actions[0].Target)
}
