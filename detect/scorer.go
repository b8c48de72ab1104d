package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warden/core"

	"go.uber.org/zap"
)

// Scorer is an independent heuristic signal. Score returns one candidate or
// nil to abstain. Implementations must honor ctx: the combiner enforces the
// analysis deadline and treats core.ErrScorerTimeout or the context's
// DeadlineExceeded as an abstention, never an error.
type Scorer interface {
	Name() string
	Score(ctx context.Context, event *core.Event) (*Candidate, error)
}

// ScorerRegistry maps event categories to the scorers that apply to them.
// Populated once at startup; adding a category means registering, not editing
// a branch chain.
type ScorerRegistry struct {
	byCategory map[core.Category][]Scorer
	wildcard   []Scorer
}

// NewScorerRegistry creates an empty registry.
func NewScorerRegistry() *ScorerRegistry {
	return &ScorerRegistry{byCategory: make(map[core.Category][]Scorer)}
}

// Register binds a scorer to a category. CategoryWildcard binds it to every
// event.
func (r *ScorerRegistry) Register(category core.Category, scorer Scorer) {
	if category == core.CategoryWildcard {
		r.wildcard = append(r.wildcard, scorer)
		return
	}
	r.byCategory[category] = append(r.byCategory[category], scorer)
}

// For returns the scorers applicable to an event category.
func (r *ScorerRegistry) For(category core.Category) []Scorer {
	scorers := make([]Scorer, 0, len(r.wildcard)+len(r.byCategory[category]))
	scorers = append(scorers, r.byCategory[category]...)
	scorers = append(scorers, r.wildcard...)
	return scorers
}

// Len returns the number of registered scorers.
func (r *ScorerRegistry) Len() int {
	n := len(r.wildcard)
	for _, s := range r.byCategory {
		n += len(s)
	}
	return n
}

// WindowCounter is the store surface the velocity scorer needs.
type WindowCounter interface {
	CountWindow(sourceID string, category core.Category, window time.Duration, now time.Time) int
}

// VelocityScorer flags sources producing detections at an unusual rate. It
// reads the detection store's windowed index, so its signal corroborates the
// pattern matcher without duplicating its logic.
type VelocityScorer struct {
	store     WindowCounter
	window    time.Duration
	threshold int
	logger    *zap.SugaredLogger
}

// NewVelocityScorer creates a velocity scorer. threshold is the prior
// detection count within window at which the scorer reaches full confidence.
func NewVelocityScorer(store WindowCounter, window time.Duration, threshold int, logger *zap.SugaredLogger) *VelocityScorer {
	if threshold < 1 {
		threshold = 1
	}
	return &VelocityScorer{store: store, window: window, threshold: threshold, logger: logger}
}

// Name implements Scorer.
func (v *VelocityScorer) Name() string { return "velocity" }

// Score implements Scorer. Confidence grows linearly with the prior detection
// count and saturates at 0.8 so velocity alone never classifies as Critical.
func (v *VelocityScorer) Score(ctx context.Context, event *core.Event) (*Candidate, error) {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, core.ErrScorerTimeout
		}
		return nil, ctx.Err()
	default:
	}

	count := v.store.CountWindow(event.SourceID, event.Category, v.window, time.Now())
	if count == 0 {
		return nil, nil
	}
	confidence := 0.8 * float64(count) / float64(v.threshold)
	if confidence > 0.8 {
		confidence = 0.8
	}
	if confidence < 0.3 {
		// Too weak to be worth corroborating.
		return nil, nil
	}
	return &Candidate{
		Source:     "scorer:" + v.Name(),
		Category:   event.Category,
		Confidence: confidence,
	}, nil
}

// OffHoursScorer flags login activity outside the usual working window.
type OffHoursScorer struct {
	// StartHour..EndHour (UTC, half-open) is the expected activity window.
	StartHour int
	EndHour   int
	// Confidence assigned to an off-hours login.
	Confidence float64
}

// NewOffHoursScorer creates an off-hours login scorer with a 06:00-22:00 UTC
// activity window.
func NewOffHoursScorer() *OffHoursScorer {
	return &OffHoursScorer{StartHour: 6, EndHour: 22, Confidence: 0.4}
}

// Name implements Scorer.
func (o *OffHoursScorer) Name() string { return "off-hours-login" }

// Score implements Scorer.
func (o *OffHoursScorer) Score(ctx context.Context, event *core.Event) (*Candidate, error) {
	if event.Category != core.CategoryLogin {
		return nil, nil
	}
	hour := event.Timestamp.UTC().Hour()
	if hour >= o.StartHour && hour < o.EndHour {
		return nil, nil
	}
	return &Candidate{
		Source:     "scorer:" + o.Name(),
		Category:   core.CategoryLogin,
		Confidence: o.Confidence,
	}, nil
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc struct {
	ID string
	Fn func(ctx context.Context, event *core.Event) (*Candidate, error)
}

// Name implements Scorer.
func (s ScorerFunc) Name() string { return s.ID }

// Score implements Scorer.
func (s ScorerFunc) Score(ctx context.Context, event *core.Event) (*Candidate, error) {
	if s.Fn == nil {
		return nil, fmt.Errorf("scorer %s has no function", s.ID)
	}
	return s.Fn(ctx, event)
}
