package engine

import (
	"errors"
	"fmt"
)

// Error is the engine's error taxonomy. Only MALFORMED_EVENT and
// CONFIG_LOAD_ERROR describe faults; the other codes are explanations of why
// an evaluation did not transition, carried in Outcome.Err.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Trigger is the event trigger being evaluated, if any.
	Trigger string

	// RuleID identifies the winning rule (cooldown, lock and action errors).
	RuleID string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeMalformedEvent indicates ingress could not decode an event.
	ErrCodeMalformedEvent ErrorCode = "MALFORMED_EVENT"

	// ErrCodeNoRuleMatched indicates no rule was eligible. Not a failure.
	ErrCodeNoRuleMatched ErrorCode = "NO_RULE_MATCHED"

	// ErrCodeCooldownSuppressed indicates the winning rule is cooling down.
	ErrCodeCooldownSuppressed ErrorCode = "COOLDOWN_SUPPRESSED"

	// ErrCodeLockedTransitionBlocked indicates the lock refused an exit from
	// the lock-holding zone. Security relevant, but not a failure.
	ErrCodeLockedTransitionBlocked ErrorCode = "LOCKED_TRANSITION_BLOCKED"

	// ErrCodeActionFailure indicates one action of a dispatch batch failed.
	ErrCodeActionFailure ErrorCode = "ACTION_FAILURE"

	// ErrCodeConfigLoadError indicates a rule reload was rejected.
	ErrCodeConfigLoadError ErrorCode = "CONFIG_LOAD_ERROR"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.RuleID != "":
		return fmt.Sprintf("%s: %s (rule=%s)", e.Code, e.Message, e.RuleID)
	case e.Trigger != "":
		return fmt.Sprintf("%s: %s (trigger=%s)", e.Code, e.Message, e.Trigger)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsMalformedEvent reports whether err is a MALFORMED_EVENT error.
func IsMalformedEvent(err error) bool { return hasCode(err, ErrCodeMalformedEvent) }

// IsNoRuleMatched reports whether err is a NO_RULE_MATCHED error.
func IsNoRuleMatched(err error) bool { return hasCode(err, ErrCodeNoRuleMatched) }

// IsCooldownSuppressed reports whether err is a COOLDOWN_SUPPRESSED error.
func IsCooldownSuppressed(err error) bool { return hasCode(err, ErrCodeCooldownSuppressed) }

// IsLockedTransitionBlocked reports whether err is a LOCKED_TRANSITION_BLOCKED error.
func IsLockedTransitionBlocked(err error) bool {
	return hasCode(err, ErrCodeLockedTransitionBlocked)
}

// IsActionFailure reports whether err is an ACTION_FAILURE error.
func IsActionFailure(err error) bool { return hasCode(err, ErrCodeActionFailure) }

// IsConfigLoadError reports whether err is a CONFIG_LOAD_ERROR error.
func IsConfigLoadError(err error) bool { return hasCode(err, ErrCodeConfigLoadError) }

// NewMalformedEventError wraps an ingress decode failure.
func NewMalformedEventError(cause error) *Error {
	return &Error{
		Code:    ErrCodeMalformedEvent,
		Message: cause.Error(),
	}
}

// NewConfigLoadError wraps a rejected rule reload.
func NewConfigLoadError(source string, cause error) *Error {
	return &Error{
		Code:    ErrCodeConfigLoadError,
		Message: cause.Error(),
		Details: map[string]string{"source": source},
	}
}
