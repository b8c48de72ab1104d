// Package detect implements the detection half of the pipeline: event
// normalization, pattern matching, heuristic scoring, candidate combination,
// and the retained detection store.
package detect

import (
	"time"

	"warden/core"

	"github.com/go-playground/validator/v10"
)

// RawEvent is the submission payload before normalization.
type RawEvent struct {
	SourceID      string                 `json:"source_id" validate:"required"`
	DestinationID string                 `json:"destination_id,omitempty"`
	Category      string                 `json:"category,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	SubjectID     string                 `json:"subject_id,omitempty"`
	SubjectAge    *int                   `json:"subject_age,omitempty" validate:"omitempty,gte=0,lte=150"`
	Timestamp     time.Time              `json:"timestamp,omitempty"`
}

// Normalizer validates raw submissions and canonicalizes them into events.
// Pure: no side effects, no retries; the caller decides whether to resubmit a
// corrected event.
type Normalizer struct {
	validate *validator.Validate
}

// NewNormalizer creates a normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{validate: validator.New()}
}

// Normalize validates raw and returns a populated event, or a ValidationError
// in which case no further processing occurs.
func (n *Normalizer) Normalize(raw RawEvent) (*core.Event, error) {
	if err := n.validate.Struct(raw); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			first := errs[0]
			return nil, core.NewValidationError(first.Field(), "failed "+first.Tag()+" check")
		}
		return nil, core.NewValidationError("", err.Error())
	}

	event := core.NewEvent()
	event.SourceID = raw.SourceID
	event.DestinationID = raw.DestinationID
	event.SubjectID = raw.SubjectID
	if raw.SubjectAge != nil {
		age := *raw.SubjectAge
		event.SubjectAge = &age
	}
	if raw.Category != "" {
		event.Category = core.Category(raw.Category)
	} else {
		event.Category = core.CategoryNetwork
	}
	if !raw.Timestamp.IsZero() {
		event.Timestamp = raw.Timestamp.UTC()
	}
	for k, v := range raw.Attributes {
		event.Attributes[k] = v
	}
	return event, nil
}
