package core

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event is one normalized, security-relevant occurrence to be evaluated.
// Events are transient: created per submission and never persisted by this engine.
type Event struct {
	EventID       string                 `json:"event_id"`
	SourceID      string                 `json:"source_id"`
	DestinationID string                 `json:"destination_id,omitempty"`
	Category      Category               `json:"category"`
	Attributes    map[string]interface{} `json:"attributes"`
	SubjectID     string                 `json:"subject_id,omitempty"`
	SubjectAge    *int                   `json:"subject_age,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// NewEvent creates a new Event with a generated UUID
func NewEvent() *Event {
	return &Event{
		EventID:    uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Attributes: make(map[string]interface{}),
	}
}

// Number extracts an attribute as float64, converting ints and numeric strings.
func (e *Event) Number(key string) (float64, bool) {
	v, ok := e.Attributes[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Bool extracts an attribute as bool. String values "true"/"false" convert.
func (e *Event) Bool(key string) (bool, bool) {
	v, ok := e.Attributes[key]
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// String extracts an attribute as string.
func (e *Event) String(key string) (string, bool) {
	v, ok := e.Attributes[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// HasProtectedSubject reports whether the event concerns a minor or elderly subject.
// Patterns with the protected-subject bonus add confidence for these events.
func (e *Event) HasProtectedSubject() bool {
	if e.SubjectAge == nil {
		return false
	}
	return *e.SubjectAge < 18 || *e.SubjectAge > 65
}
