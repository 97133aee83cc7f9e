package lifecycle

import (
	"fmt"
	"strings"

	"resonate/internal/services"
)

// State is an asset's publication status.
type State string

const (
	StateDraft      State = "draft"
	StateProcessing State = "processing"
	StateReady      State = "ready"
	StatePublished  State = "published"
	StateArchived   State = "archived"
	StateError      State = "error"
)

var allStates = []State{StateDraft, StateProcessing, StateReady, StatePublished, StateArchived, StateError}

// AllStates returns every state in display order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a string to a State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStates {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// Event triggers a transition.
type Event string

const (
	EventSubmit            Event = "submit"
	EventVariantsSucceeded Event = "variants-succeeded"
	EventTerminalFailure   Event = "terminal-failure"
	EventPublish           Event = "publish"
	EventRetry             Event = "retry"
	EventArchive           Event = "archive"
	EventRestore           Event = "restore"
	// EventReassign moves processing ownership to a newer job without
	// changing the state. It is never valid input to Next.
	EventReassign Event = "reassign"
)

var allEvents = []Event{EventSubmit, EventVariantsSucceeded, EventTerminalFailure, EventPublish, EventRetry, EventArchive, EventRestore}

// AllEvents returns every table event.
func AllEvents() []Event {
	out := make([]Event, len(allEvents))
	copy(out, allEvents)
	return out
}

// ParseEvent converts a string to an Event.
func ParseEvent(value string) (Event, bool) {
	normalized := Event(strings.ToLower(strings.TrimSpace(value)))
	for _, e := range allEvents {
		if e == normalized {
			return e, true
		}
	}
	return "", false
}

type edge struct {
	from  State
	event Event
}

var transitions = map[edge]State{
	{StateDraft, EventSubmit}:                 StateProcessing,
	{StateProcessing, EventVariantsSucceeded}: StateReady,
	{StateProcessing, EventTerminalFailure}:   StateError,
	{StateReady, EventPublish}:                StatePublished,
	{StateError, EventRetry}:                  StateProcessing,
	{StatePublished, EventArchive}:            StateArchived,
	{StateReady, EventArchive}:                StateArchived,
	{StateArchived, EventRestore}:             StateReady,
}

// InvalidTransitionError reports an event that is not legal from a state.
type InvalidTransitionError struct {
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s cannot handle %s", e.From, e.Event)
}

// ErrorKind satisfies services.ErrorClassifier.
func (e *InvalidTransitionError) ErrorKind() string { return services.KindInvalidTransition }

// Next returns the state reached by applying event in from.
func Next(from State, event Event) (State, error) {
	if to, ok := transitions[edge{from, event}]; ok {
		return to, nil
	}
	return from, &InvalidTransitionError{From: from, Event: event}
}
