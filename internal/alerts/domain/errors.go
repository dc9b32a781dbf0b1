package alerts

import (
	"errors"
	"fmt"
)

// ErrRuleNotFound indicates a missing alert rule.
var ErrRuleNotFound = errors.New("alert rule: not found")

// ErrQueueFull is returned when a bounded queue cannot accept more work.
var ErrQueueFull = errors.New("alerts: queue full")

// ConfigurationError reports a malformed rule. The rule is skipped, siblings still run.
type ConfigurationError struct {
	RuleID string
	Reason string
}

// NewConfigurationError constructs a ConfigurationError.
func NewConfigurationError(ruleID, reason string) *ConfigurationError {
	return &ConfigurationError{RuleID: ruleID, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("alert rule %s: configuration: %s", e.RuleID, e.Reason)
}

// TransientStoreError wraps a failed rule fetch or alert persistence call.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("alerts store %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// NotificationDispatchError wraps a failed hand-off to the notification channel.
type NotificationDispatchError struct {
	Channel string
	Err     error
}

func (e *NotificationDispatchError) Error() string {
	return fmt.Sprintf("alerts notification %s: %v", e.Channel, e.Err)
}

func (e *NotificationDispatchError) Unwrap() error { return e.Err }

// ErrorKind classifies an error for logs and metrics.
func ErrorKind(err error) string {
	var cfgErr *ConfigurationError
	var storeErr *TransientStoreError
	var notifyErr *NotificationDispatchError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &storeErr):
		return "store"
	case errors.As(err, &notifyErr):
		return "notification"
	default:
		return "unknown"
	}
}
