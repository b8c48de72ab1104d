package core

// Confidence adjustments. Both are applied before severity classification and
// clamped to [0,1].
const (
	// ProtectedSubjectBonus is added to a pattern's confidence when the event's
	// subject is a minor or elderly person and the pattern opts in.
	ProtectedSubjectBonus = 0.1
	// CorroborationBoost is added to the highest candidate confidence when
	// multiple independent signals agree.
	CorroborationBoost = 0.1
)

// ClampConfidence bounds a confidence score to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Severity is the ordinal classification of a detection.
type Severity string

const (
	// SeverityLow indicates a detection below the medium confidence threshold
	SeverityLow Severity = "Low"
	// SeverityMedium indicates confidence in [0.5, 0.7)
	SeverityMedium Severity = "Medium"
	// SeverityHigh indicates confidence in [0.7, 0.9)
	SeverityHigh Severity = "High"
	// SeverityCritical indicates confidence >= 0.9
	SeverityCritical Severity = "Critical"
)

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Ordinal returns the rank used for threshold comparisons (Low < Medium < High < Critical).
// Unknown values rank below Low so a malformed rule threshold never gates anything in.
func (s Severity) Ordinal() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s ranks at or above threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Ordinal() >= threshold.Ordinal()
}

// SeverityFromConfidence classifies a final confidence score into a severity tier.
// Pure and deterministic: {0.9 -> Critical, 0.7 -> High, 0.5 -> Medium, else Low}.
func SeverityFromConfidence(confidence float64) Severity {
	switch {
	case confidence >= 0.9:
		return SeverityCritical
	case confidence >= 0.7:
		return SeverityHigh
	case confidence >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// DetectionStatus represents the analysis status of a detection
type DetectionStatus string

const (
	// StatusDetected is the initial status of every detection
	StatusDetected DetectionStatus = "Detected"
	// StatusAnalyzing indicates a detection under active review
	StatusAnalyzing DetectionStatus = "Analyzing"
	// StatusConfirmed indicates a detection verified as a real threat
	StatusConfirmed DetectionStatus = "Confirmed"
	// StatusFalsePositive indicates a detection dismissed as benign
	StatusFalsePositive DetectionStatus = "FalsePositive"
	// StatusResolved indicates a closed detection
	StatusResolved DetectionStatus = "Resolved"
)

// String returns the string representation
func (s DetectionStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s DetectionStatus) IsValid() bool {
	switch s {
	case StatusDetected, StatusAnalyzing, StatusConfirmed, StatusFalsePositive, StatusResolved:
		return true
	default:
		return false
	}
}

// Category tags the kind of activity an event describes.
type Category string

const (
	// CategoryLogin covers authentication attempts
	CategoryLogin Category = "login"
	// CategoryNetwork covers connection-level events
	CategoryNetwork Category = "network"
	// CategoryContentAccess covers content-access requests
	CategoryContentAccess Category = "content-access"
	// CategoryWildcard matches any event category when used on a pattern or rule
	CategoryWildcard Category = "*"
)

// Matches reports whether a pattern/rule category accepts an event category.
func (c Category) Matches(other Category) bool {
	return c == CategoryWildcard || c == other
}

// Resolve returns the concrete category for a match: a wildcard pattern takes
// the event's category, anything else keeps its own.
func (c Category) Resolve(event Category) Category {
	if c == CategoryWildcard {
		return event
	}
	return c
}

// ActionKind identifies a concrete automated response.
type ActionKind string

const (
	// ActionBlock adds the target to the block-set
	ActionBlock ActionKind = "block"
	// ActionThrottle installs or refreshes a rate limit for the target
	ActionThrottle ActionKind = "throttle"
	// ActionAlert forwards a notification to the security event sink
	ActionAlert ActionKind = "alert"
	// ActionQuarantine directs session management to quarantine the target
	ActionQuarantine ActionKind = "quarantine"
	// ActionRequireSecondFactor directs session management to demand a second factor
	ActionRequireSecondFactor ActionKind = "require_second_factor"
	// ActionTerminateSession directs session management to end the target's sessions
	ActionTerminateSession ActionKind = "terminate_session"
	// ActionLogOnly records the decision without any enforcement side effect
	ActionLogOnly ActionKind = "log_only"
)

// String returns the string representation
func (k ActionKind) String() string {
	return string(k)
}

// IsValid checks if the action kind is valid
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionBlock, ActionThrottle, ActionAlert, ActionQuarantine,
		ActionRequireSecondFactor, ActionTerminateSession, ActionLogOnly:
		return true
	default:
		return false
	}
}

// TargetsSubject reports whether the action applies to the protected subject
// rather than the event source.
func (k ActionKind) TargetsSubject() bool {
	switch k {
	case ActionQuarantine, ActionRequireSecondFactor, ActionTerminateSession:
		return true
	default:
		return false
	}
}
