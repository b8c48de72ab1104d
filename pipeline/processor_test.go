package pipeline

import (
	"context"
	"testing"
	"time"

	"warden/catalog"
	"warden/core"
	"warden/detect"
	"warden/notify"
	"warden/prevent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type holderPatterns struct{ holder *catalog.Holder }

func (h holderPatterns) Patterns() []core.Pattern { return h.holder.Current().Patterns }

type holderRules struct{ holder *catalog.Holder }

func (h holderRules) Rules() []*core.MitigationRule { return h.holder.Current().EnabledRules() }

type testHarness struct {
	processor *Processor
	store     *detect.Store
	blockSet  *prevent.BlockSet
	throttler *prevent.Throttler
	sessions  *prevent.MockSessionManager
	sink      *notify.MockSink
}

func newHarness(t *testing.T, cat *catalog.Catalog) *testHarness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	holder := catalog.NewHolder(cat)

	store := detect.NewStore(8, time.Hour, time.Minute, logger)
	sink := notify.NewMockSink()
	matcher := detect.NewPatternMatcher(holderPatterns{holder}, logger)
	combiner := detect.NewCombiner(matcher, detect.NewScorerRegistry(), store, sink, time.Second, logger)

	blockSet := prevent.NewBlockSet()
	throttler := prevent.NewThrottler(128, time.Minute, 1, 1)
	sessions := &prevent.MockSessionManager{}
	engine := prevent.NewEngine(holderRules{holder}, store, logger)
	dispatcher := prevent.NewDispatcher(blockSet, throttler, sink, sessions, store, logger)

	return &testHarness{
		processor: NewProcessor(detect.NewNormalizer(), combiner, engine, dispatcher, nil, logger),
		store:     store,
		blockSet:  blockSet,
		throttler: throttler,
		sessions:  sessions,
		sink:      sink,
	}
}

func bruteForceCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Patterns: []core.Pattern{{
			ID:                  "brute_force_login",
			Name:                "Brute force login",
			Category:            core.CategoryLogin,
			ConfidenceThreshold: 0.5,
			Enabled:             true,
			Indicators: []core.Indicator{
				{ID: "many_failures", Field: "failed_logins", Operator: core.OpGreaterThan, Value: 3},
			},
		}},
		Rules: []*core.MitigationRule{{
			ID:                "block_brute_force",
			Name:              "Block repeated brute force",
			Category:          core.CategoryLogin,
			SeverityThreshold: core.SeverityHigh,
			Conditions:        &core.RuleConditions{MaxAttempts: 5, Window: 300 * time.Second},
			Actions:           []core.ActionKind{core.ActionBlock, core.ActionAlert},
			Enabled:           true,
			CooldownPeriod:    10 * time.Minute,
		}},
		LoadedAt: time.Now(),
	}
}

func failedLoginEvent(ts time.Time) detect.RawEvent {
	return detect.RawEvent{
		SourceID:   "203.0.113.7",
		Category:   string(core.CategoryLogin),
		Attributes: map[string]interface{}{"failed_logins": 9},
		Timestamp:  ts,
	}
}

func TestSubmitBruteForceEndToEnd(t *testing.T) {
	h := newHarness(t, bruteForceCatalog())
	base := time.Now().Add(-time.Minute)

	// The first four detections stay below the rule's attempt threshold.
	for i := 0; i < 4; i++ {
		outcome, err := h.processor.Submit(context.Background(), failedLoginEvent(base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		require.NotNil(t, outcome, "each burst event is detected")
		assert.Equal(t, core.SeverityCritical, outcome.Detection.Severity)
		assert.Empty(t, outcome.FiredRuleIDs)
		assert.False(t, h.blockSet.Contains("203.0.113.7"))
	}

	// The fifth detection within the window trips the rule, inclusive of itself.
	outcome, err := h.processor.Submit(context.Background(), failedLoginEvent(base.Add(5*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, []string{"block_brute_force"}, outcome.FiredRuleIDs)
	require.Len(t, outcome.ActionResults, 2)
	assert.Equal(t, core.ActionBlock, outcome.ActionResults[0].Kind)
	assert.Equal(t, core.OutcomeApplied, outcome.ActionResults[0].Outcome)
	assert.True(t, h.blockSet.Contains("203.0.113.7"))

	stored, err := h.store.Get(outcome.Detection.ID)
	require.NoError(t, err)
	require.Len(t, stored.AppliedActions, 2, "applied actions land on the stored detection")
	assert.Equal(t, core.ActionBlock, stored.AppliedActions[0].Kind)

	// A sixth event inside the cooldown is detected but not re-mitigated.
	outcome, err = h.processor.Submit(context.Background(), failedLoginEvent(base.Add(6*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Empty(t, outcome.FiredRuleIDs, "the rule stays in cooldown")

	assert.Equal(t, 6, h.store.Size())
	stats := h.processor.Stats()
	assert.Equal(t, uint64(6), stats.TotalDetections)
	assert.Equal(t, uint64(6), stats.Decisions)
}

func TestSubmitProtectedSubjectEscalation(t *testing.T) {
	minAge := 0
	maxAge := 17
	cat := &catalog.Catalog{
		Patterns: []core.Pattern{{
			ID:                    "grooming_contact",
			Name:                  "Suspicious contact pattern",
			Category:              core.CategoryContentAccess,
			ConfidenceThreshold:   0.5,
			ProtectedSubjectBonus: true,
			Enabled:               true,
			Indicators: []core.Indicator{
				{ID: "bulk_requests", Field: "contact_requests", Operator: core.OpGreaterThan, Value: 20},
				{ID: "new_account", Field: "account_age_days", Operator: core.OpLessThan, Value: 2},
				{ID: "flagged_phrases", Field: "flagged_phrases", Operator: core.OpGreaterThan, Value: 0},
				{ID: "media_solicited", Field: "media_solicited", Operator: core.OpEquals, Value: true},
			},
		}},
		Rules: []*core.MitigationRule{{
			ID:                "protect_minor",
			Name:              "Protect minors from predatory contact",
			Category:          core.CategoryContentAccess,
			SeverityThreshold: core.SeverityHigh,
			Conditions:        &core.RuleConditions{RequireSubject: true, MinSubjectAge: &minAge, MaxSubjectAge: &maxAge},
			Actions:           []core.ActionKind{core.ActionBlock, core.ActionAlert, core.ActionQuarantine},
			Enabled:           true,
			CooldownPeriod:    time.Minute,
		}},
		LoadedAt: time.Now(),
	}
	h := newHarness(t, cat)

	age := 10
	outcome, err := h.processor.Submit(context.Background(), detect.RawEvent{
		SourceID:   "account-991",
		Category:   string(core.CategoryContentAccess),
		SubjectID:  "child-user-12",
		SubjectAge: &age,
		Attributes: map[string]interface{}{
			"contact_requests": 45,
			"account_age_days": 1,
			"flagged_phrases":  3,
			// media_solicited absent: three of four indicators match.
		},
	})
	require.NoError(t, err)
	require.NotNil(t, outcome)

	// 0.75 indicator ratio plus the protected-subject escalation.
	assert.InDelta(t, 0.85, outcome.Detection.Confidence, 1e-9)
	assert.Equal(t, core.SeverityHigh, outcome.Detection.Severity)

	assert.Equal(t, []string{"protect_minor"}, outcome.FiredRuleIDs)
	require.Len(t, outcome.ActionResults, 3)
	assert.Equal(t, core.ActionBlock, outcome.ActionResults[0].Kind)
	assert.Equal(t, "account-991", outcome.ActionResults[0].Target, "the block targets the offending source")
	assert.Equal(t, core.ActionQuarantine, outcome.ActionResults[2].Kind)
	assert.Equal(t, "child-user-12", outcome.ActionResults[2].Target, "quarantine targets the subject")
	assert.Equal(t, []string{"child-user-12"}, h.sessions.Quarantined)
	assert.True(t, h.blockSet.Contains("account-991"))
}

func TestSubmitValidationFailure(t *testing.T) {
	h := newHarness(t, bruteForceCatalog())

	outcome, err := h.processor.Submit(context.Background(), detect.RawEvent{Category: "login"})
	assert.Nil(t, outcome)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, h.store.Size(), "rejected submissions never reach the store")
}

func TestSubmitNoDetection(t *testing.T) {
	h := newHarness(t, bruteForceCatalog())

	outcome, err := h.processor.Submit(context.Background(), detect.RawEvent{
		SourceID:   "203.0.113.7",
		Category:   string(core.CategoryLogin),
		Attributes: map[string]interface{}{"failed_logins": 1},
	})
	assert.NoError(t, err, "a quiet event is not an error")
	assert.Nil(t, outcome)
	assert.Equal(t, 0, h.store.Size())
	assert.Empty(t, h.sink.Detections())
}

func TestSubmitAsync(t *testing.T) {
	h := newHarness(t, bruteForceCatalog())
	assert.ErrorIs(t, h.processor.SubmitAsync(failedLoginEvent(time.Now())), core.ErrWorkerPoolNotRunning)

	logger := zaptest.NewLogger(t).Sugar()
	pool := core.NewWorkerPool(context.Background(), 2, 16, "pipeline-test", logger)
	pool.Start()
	defer pool.Stop()

	h.processor.pool = pool
	require.NoError(t, h.processor.SubmitAsync(failedLoginEvent(time.Now())))
	assert.Eventually(t, func() bool { return h.store.Size() == 1 }, time.Second, 10*time.Millisecond)
}
