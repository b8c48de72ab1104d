// Package notify implements the security event sink: the external, write-only
// collaborator that receives every created detection and applied action.
// Delivery is non-blocking and delivery failures never affect the pipeline.
package notify

import (
	"warden/core"

	"go.uber.org/zap"
)

// Sink is the security event sink interface. Both methods must return without
// blocking the caller.
type Sink interface {
	EmitDetection(d *core.Detection)
	EmitAction(d *core.Detection, a core.Action)
	Close()
}

// LogSink records every detection and action in the structured log. It is the
// default sink when no webhook endpoint is configured.
type LogSink struct {
	logger *zap.SugaredLogger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: logger}
}

// EmitDetection implements Sink.
func (s *LogSink) EmitDetection(d *core.Detection) {
	s.logger.Infow("Security event: detection",
		"detection_id", d.ID,
		"category", d.Category,
		"severity", d.Severity,
		"confidence", d.Confidence,
		"source_id", d.SourceID,
		"status", d.Status)
}

// EmitAction implements Sink.
func (s *LogSink) EmitAction(d *core.Detection, a core.Action) {
	s.logger.Infow("Security event: action",
		"detection_id", d.ID,
		"kind", a.Kind,
		"target", a.Target,
		"applied_at", a.AppliedAt)
}

// Close implements Sink.
func (s *LogSink) Close() {}
