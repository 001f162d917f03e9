package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardHappyPath(t *testing.T) {
	w := Wizard{State: StateIdle}
	steps := []struct {
		ev   Event
		want State
	}{
		{ev: Event{Kind: EventUpload}, want: StateMapping},
		{ev: Event{Kind: EventMap}, want: StateValidating},
		{ev: Event{Kind: EventValidate}, want: StateValidating},
		{ev: Event{Kind: EventMap}, want: StateValidating},
		{ev: Event{Kind: EventStartPublish}, want: StatePublishing},
		{ev: Event{Kind: EventPublished, BatchID: "b1"}, want: StateDone},
	}
	for _, s := range steps {
		var err error
		w, err = Transition(w, s.ev)
		require.NoError(t, err, "event %s", s.ev.Kind)
		assert.Equal(t, s.want, w.State)
	}
	assert.Equal(t, "b1", w.BatchID)

	w, err := Transition(w, Event{Kind: EventReset})
	require.NoError(t, err)
	assert.Equal(t, Wizard{State: StateIdle}, w)
}

func TestWizardFailureCarriesReason(t *testing.T) {
	w := Wizard{State: StatePublishing}
	w, err := Transition(w, Event{Kind: EventFail, Reason: "transaction conflict"})
	require.NoError(t, err)
	assert.Equal(t, Wizard{State: StateFailed, Reason: "transaction conflict"}, w)

	w, err = Transition(w, Event{Kind: EventValidate})
	require.NoError(t, err)
	assert.Equal(t, Wizard{State: StateValidating}, w)
}

func TestWizardRejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		ev   EventKind
	}{
		{from: StateIdle, ev: EventMap},
		{from: StateIdle, ev: EventStartPublish},
		{from: StateIdle, ev: EventFail},
		{from: StateMapping, ev: EventValidate},
		{from: StateMapping, ev: EventStartPublish},
		{from: StateValidating, ev: EventPublished},
		{from: StatePublishing, ev: EventUpload},
		{from: StatePublishing, ev: EventReset},
		{from: StateDone, ev: EventStartPublish},
		{from: StateDone, ev: EventFail},
		{from: StateFailed, ev: EventStartPublish},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			w := Wizard{State: tt.from}
			got, err := Transition(w, Event{Kind: tt.ev})

			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.from, invalid.From)
			assert.Equal(t, tt.ev, invalid.Event)
			assert.Equal(t, w, got)
		})
	}
}
