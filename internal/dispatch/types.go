package dispatch

import (
	"time"

	"qqbridge/internal/onebot"
)

// Status tags the result of handling one notification.
type Status int

const (
	// StatusSent: the bridge confirmed delivery.
	StatusSent Status = iota
	// StatusRejectedByRemote: a non-2xx response, or 200 with a bad retcode.
	StatusRejectedByRemote
	// StatusNetworkFailure: the POST never produced a response.
	StatusNetworkFailure
	// StatusSkippedFiltered: the item's category is not enabled for the target.
	StatusSkippedFiltered
	// StatusSkippedEmpty: the formatted message was blank.
	StatusSkippedEmpty
	// StatusInvalidRecipient: the user id does not parse where the dialect
	// requires a number.
	StatusInvalidRecipient
	// StatusQueued: accepted onto the dispatch queue (queued dialect).
	StatusQueued
	// StatusDuplicateSuppressed: identical message seen within the dedup window.
	StatusDuplicateSuppressed
	// StatusNotReady: the bridge is disabled or missing required configuration.
	StatusNotReady
	// StatusBadEvent: the host payload was not a recognizable key-value structure.
	StatusBadEvent
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusRejectedByRemote:
		return "rejected_by_remote"
	case StatusNetworkFailure:
		return "network_failure"
	case StatusSkippedFiltered:
		return "skipped_filtered"
	case StatusSkippedEmpty:
		return "skipped_empty"
	case StatusInvalidRecipient:
		return "invalid_recipient"
	case StatusQueued:
		return "queued"
	case StatusDuplicateSuppressed:
		return "duplicate_suppressed"
	case StatusNotReady:
		return "not_ready"
	case StatusBadEvent:
		return "bad_event"
	default:
		return "unknown"
	}
}

// Attempted reports whether an HTTP call was actually made. Only attempted
// outcomes consume the dispatcher's pacing budget.
func (s Status) Attempted() bool {
	switch s {
	case StatusSent, StatusRejectedByRemote, StatusNetworkFailure:
		return true
	}
	return false
}

// Outcome is the terminal result for one notification.
type Outcome struct {
	Status     Status
	HTTPStatus int    // set when a response was received
	Detail     string // response body snippet or error text
	Err        error
}

// Item is one queued notification.
type Item struct {
	Title      string
	Body       string
	Category   string
	EnqueuedAt time.Time
}

// Target is an immutable delivery configuration snapshot. It is replaced
// wholesale on reconfiguration, never mutated field-by-field, so an in-flight
// send always observes a consistent configuration epoch.
type Target struct {
	URL         string
	UserID      string
	AccessToken string
	Dialect     onebot.Dialect
	TitleStyle  onebot.TitleStyle

	// Categories limits delivery to the listed notification categories.
	// Empty means no filtering.
	Categories map[string]struct{}

	// MinInterval is the minimum delay between consecutive HTTP attempts on
	// the queued path. Zero disables pacing.
	MinInterval time.Duration
}

// Complete reports whether the target can deliver: endpoint and recipient are
// always required, and the queued dialect additionally requires a token.
func (t Target) Complete() bool {
	if t.URL == "" || t.UserID == "" {
		return false
	}
	if t.Dialect.RequiresToken() && t.AccessToken == "" {
		return false
	}
	return true
}

// Allows reports whether a notification of the given category may be sent.
func (t Target) Allows(category string) bool {
	if len(t.Categories) == 0 {
		return true
	}
	_, ok := t.Categories[category]
	return ok
}

// OutcomeEvent is emitted on the event bus for terminal outcomes.
// Keep it small; Data may be logged/serialized by subscribers.
type OutcomeEvent struct {
	Status     string    `json:"status"`
	Title      string    `json:"title"`
	Category   string    `json:"category,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}
