package models

import (
	errors "github.com/Laisky/errors/v2"
)

type RequestStatus string

const (
	StatusPending   RequestStatus = "Pending"
	StatusSent      RequestStatus = "Sent"
	StatusFulfilled RequestStatus = "Fulfilled"
	StatusCancelled RequestStatus = "Cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusFulfilled || s == StatusCancelled
}

type Action string

const (
	ActionDispatched Action = "send"
	ActionFulfill    Action = "fulfill"
	ActionCancel     Action = "cancel"
)

// ErrForbiddenTransition is returned when an action does not apply to the current status
var ErrForbiddenTransition = errors.New("forbidden status transition")

// Transition is the only place request statuses change.
// Re-dispatching a Sent request keeps it Sent; terminal statuses accept nothing.
func Transition(current RequestStatus, action Action) (RequestStatus, error) {
	if current.IsTerminal() {
		return current, errors.Wrapf(ErrForbiddenTransition, "%s from %s", action, current)
	}

	switch current {
	case StatusPending, StatusSent:
	default:
		return current, errors.Wrapf(ErrForbiddenTransition, "unknown status %q", current)
	}

	switch action {
	case ActionDispatched:
		return StatusSent, nil
	case ActionFulfill:
		return StatusFulfilled, nil
	case ActionCancel:
		return StatusCancelled, nil
	default:
		return current, errors.Wrapf(ErrForbiddenTransition, "unknown action %q", action)
	}
}

// OfferedActions lists what an operator surface should show for a status.
// Sending is hidden once a request reached the channel to avoid duplicate posts by habit.
func OfferedActions(s RequestStatus) []Action {
	switch s {
	case StatusPending:
		return []Action{ActionDispatched, ActionFulfill, ActionCancel}
	case StatusSent:
		return []Action{ActionFulfill, ActionCancel}
	default:
		return nil
	}
}
