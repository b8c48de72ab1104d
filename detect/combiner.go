package detect

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/util/goroutine"

	"go.uber.org/zap"
)

// DetectionSink receives every created detection. Implementations must not
// block; delivery failures never affect the pipeline.
type DetectionSink interface {
	EmitDetection(d *core.Detection)
}

// Combiner fans an event out to the pattern matcher and the registered
// scorers, merges their candidates into a single detection, writes it to the
// store, and emits it to the security event sink.
type Combiner struct {
	matcher *PatternMatcher
	scorers *ScorerRegistry
	store   *Store
	sink    DetectionSink
	timeout time.Duration
	logger  *zap.SugaredLogger

	scorerCalls    atomic.Uint64
	scorerTimeouts atomic.Uint64
}

// NewCombiner creates a combiner. timeout bounds the scorer fan-out; a scorer
// exceeding it abstains.
func NewCombiner(matcher *PatternMatcher, scorers *ScorerRegistry, store *Store, sink DetectionSink, timeout time.Duration, logger *zap.SugaredLogger) *Combiner {
	return &Combiner{
		matcher: matcher,
		scorers: scorers,
		store:   store,
		sink:    sink,
		timeout: timeout,
		logger:  logger,
	}
}

// Combine scores the event, producing either a stored detection or nil when
// no signal fired. nil with a nil error is the "no detection" outcome and is
// distinct from a processing error.
func (c *Combiner) Combine(ctx context.Context, event *core.Event) (*core.Detection, error) {
	candidates := c.collect(ctx, event)
	if len(candidates) == 0 {
		return nil, nil
	}

	confidence, patternIDs := combineCandidates(candidates)

	detection := core.NewDetection(event, candidates[0].Category, confidence)
	detection.PatternIDs = patternIDs

	if err := c.store.Insert(detection); err != nil {
		return nil, &core.StoreWriteError{DetectionID: detection.ID, Err: err}
	}

	metrics.DetectionsCreated.WithLabelValues(detection.Severity.String(), string(detection.Category)).Inc()
	c.logger.Infow("Detection created",
		"detection_id", detection.ID,
		"category", detection.Category,
		"severity", detection.Severity,
		"confidence", detection.Confidence,
		"source_id", detection.SourceID)

	c.sink.EmitDetection(detection)
	return detection, nil
}

// collect runs the pattern matcher and all applicable scorers concurrently and
// joins them under the analysis deadline.
func (c *Combiner) collect(ctx context.Context, event *core.Event) []Candidate {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	scorers := c.scorers.For(event.Category)
	results := make(chan []Candidate, len(scorers)+1)

	go func() {
		defer goroutine.Recover("pattern-matcher", c.logger)
		results <- c.matcher.Match(event)
	}()

	for _, scorer := range scorers {
		go func(s Scorer) {
			defer goroutine.Recover("scorer-"+s.Name(), c.logger)
			c.scorerCalls.Add(1)

			candidate, err := s.Score(ctx, event)
			switch {
			case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, core.ErrScorerTimeout)):
				// Absorbed: the scorer abstains, the pipeline continues.
				c.scorerTimeouts.Add(1)
				metrics.ScorerInvocations.WithLabelValues(s.Name(), "timeout").Inc()
				c.logger.Warnw("Scorer exceeded analysis deadline", "scorer", s.Name())
				results <- nil
			case err != nil:
				metrics.ScorerInvocations.WithLabelValues(s.Name(), "error").Inc()
				c.logger.Warnw("Scorer failed, treating as abstention", "scorer", s.Name(), "error", err)
				results <- nil
			case candidate == nil:
				metrics.ScorerInvocations.WithLabelValues(s.Name(), "abstain").Inc()
				results <- nil
			default:
				metrics.ScorerInvocations.WithLabelValues(s.Name(), "candidate").Inc()
				results <- []Candidate{*candidate}
			}
		}(scorer)
	}

	var candidates []Candidate
	pending := len(scorers) + 1
	for pending > 0 {
		select {
		case batch := <-results:
			pending--
			candidates = append(candidates, batch...)
		case <-ctx.Done():
			// Stragglers abstain; their sends land in the buffered channel and
			// are dropped with it.
			c.scorerTimeouts.Add(uint64(pending))
			c.logger.Warnw("Analysis deadline reached before all signals finished",
				"outstanding", pending, "event_id", event.EventID)
			pending = 0
		}
	}
	return candidates
}

// combineCandidates reduces candidates to the final confidence and the
// contributing pattern IDs. One candidate is used as-is; with corroboration
// across independent signals the best candidate is boosted by 0.1, clamped to
// 1.0, before severity classification.
func combineCandidates(candidates []Candidate) (float64, []string) {
	// Highest confidence first; stable tiebreak on source for determinism.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Source < candidates[j].Source
	})

	confidence := candidates[0].Confidence
	if len(candidates) > 1 {
		confidence = core.ClampConfidence(confidence + core.CorroborationBoost)
	}

	var patternIDs []string
	for _, cand := range candidates {
		if cand.PatternID != "" {
			patternIDs = append(patternIDs, cand.PatternID)
		}
	}
	return confidence, patternIDs
}

// ScorerStats reports cumulative scorer fan-out counters.
type ScorerStats struct {
	Calls    uint64
	Timeouts uint64
}

// Stats returns the combiner's scorer counters.
func (c *Combiner) Stats() ScorerStats {
	return ScorerStats{
		Calls:    c.scorerCalls.Load(),
		Timeouts: c.scorerTimeouts.Load(),
	}
}
