package results

import "fmt"

// State is a step of the import wizard.
type State string

const (
	StateIdle       State = "idle"
	StateMapping    State = "mapping"
	StateValidating State = "validating"
	StatePublishing State = "publishing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

type EventKind string

const (
	EventUpload       EventKind = "upload"
	EventMap          EventKind = "map"
	EventValidate     EventKind = "validate"
	EventStartPublish EventKind = "start_publish"
	EventPublished    EventKind = "published"
	EventFail         EventKind = "fail"
	EventReset        EventKind = "reset"
)

// Event drives the wizard. Reason is read for EventFail, BatchID for
// EventPublished.
type Event struct {
	Kind    EventKind
	Reason  string
	BatchID string
}

// Wizard is the state of one upload. Reason is set only in StateFailed and
// BatchID only in StateDone.
type Wizard struct {
	State   State  `json:"state"`
	Reason  string `json:"reason,omitempty"`
	BatchID string `json:"batchId,omitempty"`
}

type InvalidTransitionError struct {
	From  State
	Event EventKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Event, e.From)
}

// Transition returns the wizard after ev, or an InvalidTransitionError if ev
// is not allowed in w's state.
func Transition(w Wizard, ev Event) (Wizard, error) {
	invalid := func() (Wizard, error) {
		return w, &InvalidTransitionError{From: w.State, Event: ev.Kind}
	}

	switch ev.Kind {
	case EventReset:
		if w.State == StatePublishing {
			return invalid()
		}
		return Wizard{State: StateIdle}, nil
	case EventFail:
		switch w.State {
		case StateIdle, StateDone, StateFailed:
			return invalid()
		}
		return Wizard{State: StateFailed, Reason: ev.Reason}, nil
	}

	switch w.State {
	case StateIdle:
		if ev.Kind == EventUpload {
			return Wizard{State: StateMapping}, nil
		}
	case StateMapping:
		switch ev.Kind {
		case EventUpload:
			return Wizard{State: StateMapping}, nil
		case EventMap:
			return Wizard{State: StateValidating}, nil
		}
	case StateValidating:
		switch ev.Kind {
		case EventUpload:
			return Wizard{State: StateMapping}, nil
		case EventMap, EventValidate:
			return Wizard{State: StateValidating}, nil
		case EventStartPublish:
			return Wizard{State: StatePublishing}, nil
		}
	case StatePublishing:
		if ev.Kind == EventPublished {
			return Wizard{State: StateDone, BatchID: ev.BatchID}, nil
		}
	case StateFailed:
		switch ev.Kind {
		case EventUpload:
			return Wizard{State: StateMapping}, nil
		case EventMap, EventValidate:
			return Wizard{State: StateValidating}, nil
		}
	}
	return invalid()
}
