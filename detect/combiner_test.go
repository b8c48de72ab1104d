package detect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureSink struct {
	mu      sync.Mutex
	emitted []*core.Detection
}

func (s *captureSink) EmitDetection(d *core.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted = append(s.emitted, d)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emitted)
}

func newTestCombiner(t *testing.T, patterns []core.Pattern, scorers ...Scorer) (*Combiner, *Store, *captureSink) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	registry := NewScorerRegistry()
	for _, s := range scorers {
		registry.Register(core.CategoryWildcard, s)
	}
	store := NewStore(4, time.Hour, time.Minute, logger)
	sink := &captureSink{}
	matcher := NewPatternMatcher(staticCatalog{patterns: patterns}, logger)
	return NewCombiner(matcher, registry, store, sink, 200*time.Millisecond, logger), store, sink
}

func fixedScorer(name string, confidence float64) Scorer {
	return ScorerFunc{ID: name, Fn: func(ctx context.Context, event *core.Event) (*Candidate, error) {
		return &Candidate{Source: "scorer:" + name, Category: event.Category, Confidence: confidence}, nil
	}}
}

func abstainingScorer(name string) Scorer {
	return ScorerFunc{ID: name, Fn: func(ctx context.Context, event *core.Event) (*Candidate, error) {
		return nil, nil
	}}
}

func TestCombineSingleCandidate(t *testing.T) {
	combiner, store, sink := newTestCombiner(t, nil, fixedScorer("only", 0.85))

	d, err := combiner.Combine(context.Background(), loginEvent(0))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.InDelta(t, 0.85, d.Confidence, 1e-9, "a single candidate gets no corroboration boost")
	assert.Equal(t, core.SeverityHigh, d.Severity)
	assert.Empty(t, d.PatternIDs)
	assert.Equal(t, core.StatusDetected, d.Status)

	stored, err := store.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Confidence, stored.Confidence)
	assert.Equal(t, 1, sink.count())
}

func TestCombinePatternCandidate(t *testing.T) {
	combiner, store, _ := newTestCombiner(t, []core.Pattern{bruteForcePattern()})

	d, err := combiner.Combine(context.Background(), loginEvent(5))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)
	assert.Equal(t, core.SeverityCritical, d.Severity)
	assert.Equal(t, []string{"brute_force_login"}, d.PatternIDs)
	assert.Equal(t, 1, store.Size())
}

func TestCombineNoSignalMeansNoDetection(t *testing.T) {
	combiner, store, sink := newTestCombiner(t, nil, abstainingScorer("quiet"))

	d, err := combiner.Combine(context.Background(), loginEvent(0))
	assert.NoError(t, err, "no detection is not an error")
	assert.Nil(t, d)
	assert.Equal(t, 0, store.Size(), "nothing may be stored when every signal abstains")
	assert.Equal(t, 0, sink.count())
}

func TestCombineAllScorersAbstainIncludingTimeout(t *testing.T) {
	hung := ScorerFunc{ID: "hung", Fn: func(ctx context.Context, event *core.Event) (*Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	combiner, store, sink := newTestCombiner(t, nil, abstainingScorer("quiet"), hung)

	d, err := combiner.Combine(context.Background(), loginEvent(0))
	assert.NoError(t, err)
	assert.Nil(t, d, "an abstention and a timeout together still mean no detection")
	assert.Equal(t, 0, store.Size())
	assert.Equal(t, 0, sink.count())
}

func TestCombineCorroborationBoost(t *testing.T) {
	// The best signal yields 0.85; a second independent signal corroborates,
	// lifting the final confidence to 0.95 and the severity to Critical.
	combiner, _, _ := newTestCombiner(t, nil, fixedScorer("best", 0.85), fixedScorer("corroborate", 0.4))

	d, err := combiner.Combine(context.Background(), loginEvent(0))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.InDelta(t, 0.95, d.Confidence, 1e-9)
	assert.Equal(t, core.SeverityCritical, d.Severity)
}

func TestCombineBoostClampedToOne(t *testing.T) {
	combiner, _, _ := newTestCombiner(t, nil, fixedScorer("a", 0.97), fixedScorer("b", 0.5))

	d, err := combiner.Combine(context.Background(), loginEvent(0))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)
	assert.Equal(t, core.SeverityCritical, d.Severity)
}

func TestCombineScorerErrorIsAbstention(t *testing.T) {
	failing := ScorerFunc{ID: "broken", Fn: func(ctx context.Context, event *core.Event) (*Candidate, error) {
		return nil, errors.New("backend unavailable")
	}}
	combiner, _, _ := newTestCombiner(t, nil, fixedScorer("healthy", 0.6), failing)

	d, err := combiner.Combine(context.Background(), loginEvent(0))
	require.NoError(t, err, "a failing scorer must not fail the submission")
	require.NotNil(t, d)
	assert.InDelta(t, 0.6, d.Confidence, 1e-9, "the failed scorer contributes no corroboration")
	assert.Equal(t, core.SeverityMedium, d.Severity)
}

func TestCombineSlowScorerTimesOut(t *testing.T) {
	slow := ScorerFunc{ID: "slow", Fn: func(ctx context.Context, event *core.Event) (*Candidate, error) {
		select {
		case <-time.After(5 * time.Second):
			return &Candidate{Source: "scorer:slow", Category: event.Category, Confidence: 0.9}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	combiner, _, _ := newTestCombiner(t, nil, fixedScorer("fast", 0.6), slow)

	start := time.Now()
	d, err := combiner.Combine(context.Background(), loginEvent(0))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Less(t, time.Since(start), 2*time.Second, "the deadline bounds the fan-out")
	assert.InDelta(t, 0.6, d.Confidence, 1e-9, "the timed-out scorer abstains")

	stats := combiner.Stats()
	assert.NotZero(t, stats.Calls)
	assert.NotZero(t, stats.Timeouts)
}

func TestCombineScorerTimeoutErrorCountsAsTimeout(t *testing.T) {
	timedOut := ScorerFunc{ID: "deadline-bound", Fn: func(ctx context.Context, event *core.Event) (*Candidate, error) {
		return nil, core.ErrScorerTimeout
	}}
	combiner, _, _ := newTestCombiner(t, nil, fixedScorer("healthy", 0.6), timedOut)

	d, err := combiner.Combine(context.Background(), loginEvent(0))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.InDelta(t, 0.6, d.Confidence, 1e-9, "the timed-out scorer abstains")
	assert.NotZero(t, combiner.Stats().Timeouts)
}

func TestCombinePatternIDsExcludeScorers(t *testing.T) {
	combiner, _, _ := newTestCombiner(t, []core.Pattern{bruteForcePattern()}, fixedScorer("heuristic", 0.9))

	d, err := combiner.Combine(context.Background(), loginEvent(5))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []string{"brute_force_login"}, d.PatternIDs, "scorer candidates carry no pattern ID")
}

func TestCombineCandidatesDeterministicOrder(t *testing.T) {
	candidates := []Candidate{
		{Source: "scorer:b", Confidence: 0.6},
		{Source: "scorer:a", Confidence: 0.6},
		{PatternID: "p1", Source: "pattern:p1", Confidence: 0.9},
	}
	confidence, patternIDs := combineCandidates(candidates)
	assert.InDelta(t, 1.0, confidence, 1e-9)
	assert.Equal(t, []string{"p1"}, patternIDs)
	assert.Equal(t, "pattern:p1", candidates[0].Source)
	assert.Equal(t, "scorer:a", candidates[1].Source, "equal confidence ties break on source")
}
