// Package pipeline wires the detection and prevention stages into the event
// submission path: Normalize, Match/Score, Combine, Store, Mitigate, Dispatch.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"warden/core"
	"warden/detect"
	"warden/metrics"
	"warden/prevent"

	"go.uber.org/zap"
)

// Outcome is the result of one successful submission that produced a
// detection.
type Outcome struct {
	Detection     *core.Detection     `json:"detection"`
	FiredRuleIDs  []string            `json:"fired_rule_ids,omitempty"`
	ActionResults []core.ActionResult `json:"action_results,omitempty"`
}

// Processor executes the pipeline for submitted events. Within one event the
// stage order is strict; across events there is no ordering guarantee and
// submissions for the same source may run concurrently.
type Processor struct {
	normalizer *detect.Normalizer
	combiner   *detect.Combiner
	engine     *prevent.Engine
	dispatcher *prevent.Dispatcher
	pool       *core.WorkerPool
	logger     *zap.SugaredLogger

	detections atomic.Uint64
	latencyNs  atomic.Int64
	decisions  atomic.Uint64
}

// NewProcessor creates a processor. pool may be nil when the async path is not
// wired (tests, CLI validation).
func NewProcessor(normalizer *detect.Normalizer, combiner *detect.Combiner, engine *prevent.Engine, dispatcher *prevent.Dispatcher, pool *core.WorkerPool, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		normalizer: normalizer,
		combiner:   combiner,
		engine:     engine,
		dispatcher: dispatcher,
		pool:       pool,
		logger:     logger,
	}
}

// Submit runs the full pipeline for one raw event. It returns a nil Outcome
// with a nil error when no detector fired ("no detection" is not an error),
// an Outcome when a detection was created, or an error for validation and
// store-write failures. Scorer timeouts and per-action failures never surface
// here as errors.
func (p *Processor) Submit(ctx context.Context, raw detect.RawEvent) (*Outcome, error) {
	start := time.Now()

	event, err := p.normalizer.Normalize(raw)
	if err != nil {
		metrics.ValidationFailures.Inc()
		return nil, err
	}
	metrics.EventsSubmitted.WithLabelValues(string(event.Category)).Inc()

	detection, err := p.combiner.Combine(ctx, event)
	if err != nil {
		return nil, err
	}
	if detection == nil {
		p.recordLatency(start)
		return nil, nil
	}

	eval := p.engine.Evaluate(detection)
	var results []core.ActionResult
	if len(eval.Actions) > 0 {
		results = p.dispatcher.Dispatch(ctx, detection, eval.Actions)
	}

	p.detections.Add(1)
	p.recordLatency(start)

	return &Outcome{
		Detection:     detection,
		FiredRuleIDs:  eval.FiredRuleIDs,
		ActionResults: results,
	}, nil
}

// asyncEnqueueWait bounds how long SubmitAsync blocks for queue space before
// reporting saturation to the caller.
const asyncEnqueueWait = 100 * time.Millisecond

// SubmitAsync queues the raw event for processing on the worker pool, waiting
// briefly for queue space under load. Validation still happens on the worker;
// the caller only learns about queue saturation.
func (p *Processor) SubmitAsync(raw detect.RawEvent) error {
	if p.pool == nil {
		return core.ErrWorkerPoolNotRunning
	}
	return p.pool.SubmitWithTimeout(func() {
		if _, err := p.Submit(context.Background(), raw); err != nil {
			p.logger.Warnw("Async submission failed", "source_id", raw.SourceID, "error", err)
		}
	}, asyncEnqueueWait)
}

func (p *Processor) recordLatency(start time.Time) {
	elapsed := time.Since(start)
	metrics.DecisionDuration.Observe(elapsed.Seconds())
	p.latencyNs.Add(int64(elapsed))
	p.decisions.Add(1)
}

// Stats reports the processor's cumulative decision counters.
type Stats struct {
	TotalDetections uint64
	Decisions       uint64
	AvgLatency      time.Duration
}

// Stats returns cumulative decision statistics.
func (p *Processor) Stats() Stats {
	s := Stats{
		TotalDetections: p.detections.Load(),
		Decisions:       p.decisions.Load(),
	}
	if s.Decisions > 0 {
		s.AvgLatency = time.Duration(p.latencyNs.Load() / int64(s.Decisions))
	}
	return s
}
