package prevent

import (
	"context"
	"time"

	"warden/core"
	"warden/metrics"

	"go.uber.org/zap"
)

// ActionSink receives applied alert/log actions. Implementations must not
// block.
type ActionSink interface {
	EmitAction(d *core.Detection, a core.Action)
}

// ActionRecorder appends applied actions to the stored detection.
type ActionRecorder interface {
	AppendActions(id string, actions []core.Action) error
}

// Dispatcher applies a batch of actions. Each action is attempted
// independently: a failure on one never prevents the rest, and the
// detection's own status is unaffected by dispatch outcomes.
type Dispatcher struct {
	blockSet  *BlockSet
	throttler *Throttler
	sink      ActionSink
	sessions  SessionManager
	recorder  ActionRecorder
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(blockSet *BlockSet, throttler *Throttler, sink ActionSink, sessions SessionManager, recorder ActionRecorder, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		blockSet:  blockSet,
		throttler: throttler,
		sink:      sink,
		sessions:  sessions,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch applies the batch in order and returns a per-action result set.
// Every successful application, including idempotent no-ops, is appended to
// the detection's action list: the audit trail reflects every rule decision
// even when the side effect was already in place.
func (dp *Dispatcher) Dispatch(ctx context.Context, d *core.Detection, actions []core.Action) []core.ActionResult {
	results := make([]core.ActionResult, 0, len(actions))
	var applied []core.Action

	for _, action := range actions {
		start := dp.now()
		action.AppliedAt = start.UTC()

		outcome, err := dp.apply(ctx, d, action)
		result := core.ActionResult{
			Kind:     action.Kind,
			Target:   action.Target,
			Outcome:  outcome,
			Duration: dp.now().Sub(start),
		}
		if err != nil {
			appErr := &core.ActionApplicationError{Kind: action.Kind, Target: action.Target, Err: err}
			result.Error = appErr.Error()
			dp.logger.Warnw("Action application failed",
				"detection_id", d.ID,
				"kind", action.Kind,
				"target", action.Target,
				"error", err)
		} else {
			applied = append(applied, action)
		}
		metrics.ActionsDispatched.WithLabelValues(action.Kind.String(), string(result.Outcome)).Inc()
		results = append(results, result)
	}

	if len(applied) > 0 {
		d.AppliedActions = append(d.AppliedActions, applied...)
		if err := dp.recorder.AppendActions(d.ID, applied); err != nil {
			dp.logger.Errorw("Failed to record applied actions",
				"detection_id", d.ID, "error", err)
		}
	}
	return results
}

func (dp *Dispatcher) apply(ctx context.Context, d *core.Detection, action core.Action) (core.ActionOutcome, error) {
	switch action.Kind {
	case core.ActionBlock:
		if dp.blockSet.Add(action.Target) {
			return core.OutcomeApplied, nil
		}
		return core.OutcomeAlreadyApplied, nil

	case core.ActionThrottle:
		if dp.throttler.Throttle(action.Target) {
			return core.OutcomeAlreadyApplied, nil
		}
		return core.OutcomeApplied, nil

	case core.ActionAlert, core.ActionLogOnly:
		dp.sink.EmitAction(d, action)
		return core.OutcomeApplied, nil

	case core.ActionQuarantine:
		if err := dp.sessions.Quarantine(ctx, action.Target); err != nil {
			return core.OutcomeFailed, err
		}
		return core.OutcomeApplied, nil

	case core.ActionRequireSecondFactor:
		if err := dp.sessions.RequireSecondFactor(ctx, action.Target); err != nil {
			return core.OutcomeFailed, err
		}
		return core.OutcomeApplied, nil

	case core.ActionTerminateSession:
		if err := dp.sessions.TerminateSession(ctx, action.Target); err != nil {
			return core.OutcomeFailed, err
		}
		return core.OutcomeApplied, nil

	default:
		return core.OutcomeFailed, core.ErrUnknownActionKind
	}
}
