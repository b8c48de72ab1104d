package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Detection is one scored identification of a potential threat, derived from
// exactly one event. Severity is always a pure function of the final
// confidence; status changes only through TransitionTo and actions only through
// appends (the store serializes appends).
type Detection struct {
	ID         string          `json:"id" msgpack:"id"`
	Category   Category        `json:"category" msgpack:"category"`
	Severity   Severity        `json:"severity" msgpack:"severity"`
	Confidence float64         `json:"confidence" msgpack:"confidence"`
	SourceID   string          `json:"source_id" msgpack:"source_id"`
	SubjectID  string          `json:"subject_id,omitempty" msgpack:"subject_id,omitempty"`
	SubjectAge *int            `json:"subject_age,omitempty" msgpack:"subject_age,omitempty"`
	Timestamp  time.Time       `json:"timestamp" msgpack:"timestamp"`
	Status     DetectionStatus `json:"status" msgpack:"status"`
	// PatternIDs records which catalog patterns contributed to this detection.
	PatternIDs []string `json:"pattern_ids,omitempty" msgpack:"pattern_ids,omitempty"`
	// AppliedActions is append-only, ordered by application time.
	AppliedActions []Action `json:"applied_actions" msgpack:"applied_actions"`
}

// NewDetection creates a detection for an event with the given final confidence.
// Severity is derived from the confidence; status starts at Detected.
func NewDetection(event *Event, category Category, confidence float64) *Detection {
	return &Detection{
		ID:         uuid.New().String(),
		Category:   category,
		Severity:   SeverityFromConfidence(confidence),
		Confidence: confidence,
		SourceID:   event.SourceID,
		SubjectID:  event.SubjectID,
		SubjectAge: event.SubjectAge,
		Timestamp:  event.Timestamp,
		Status:     StatusDetected,
	}
}

// validStatusTransitions defines the allowed status transitions for detections.
var validStatusTransitions = map[DetectionStatus][]DetectionStatus{
	StatusDetected:      {StatusAnalyzing, StatusConfirmed, StatusFalsePositive},
	StatusAnalyzing:     {StatusConfirmed, StatusFalsePositive},
	StatusConfirmed:     {StatusResolved},
	StatusFalsePositive: {StatusResolved},
	StatusResolved:      {}, // final
}

// TransitionTo validates and executes a status transition.
func (d *Detection) TransitionTo(newStatus DetectionStatus) error {
	if newStatus == "" {
		return errors.New("new status cannot be empty")
	}
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid detection status: %s", newStatus)
	}

	allowed, exists := validStatusTransitions[d.Status]
	if !exists {
		return fmt.Errorf("unknown current status: %s", d.Status)
	}
	for _, status := range allowed {
		if status == newStatus {
			d.Status = newStatus
			return nil
		}
	}
	return fmt.Errorf("invalid transition: %s -> %s (allowed: %v)", d.Status, newStatus, allowed)
}

// CanTransitionTo checks if a transition is allowed without executing it.
func (d *Detection) CanTransitionTo(newStatus DetectionStatus) bool {
	if !newStatus.IsValid() {
		return false
	}
	for _, status := range validStatusTransitions[d.Status] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsFinalStatus checks if the detection is in a terminal status.
func (d *Detection) IsFinalStatus() bool {
	allowed, exists := validStatusTransitions[d.Status]
	return exists && len(allowed) == 0
}

// Clone returns a deep copy. The store hands out clones so callers never share
// the stored instance with the sweep or concurrent appends.
func (d *Detection) Clone() *Detection {
	clone := *d
	if d.SubjectAge != nil {
		age := *d.SubjectAge
		clone.SubjectAge = &age
	}
	clone.PatternIDs = append([]string(nil), d.PatternIDs...)
	clone.AppliedActions = append([]Action(nil), d.AppliedActions...)
	return &clone
}
