package lease

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInstanceState_NormalizesTerminalSynonyms(t *testing.T) {
	for _, raw := range []string{"deleted", "dead", "stopped", "DEAD"} {
		got, err := ParseInstanceState(raw)
		assert.NoError(t, err)
		assert.Equal(t, StateDetached, got)
	}
}

func TestParseInstanceState_EmptyIsDetached(t *testing.T) {
	got, err := ParseInstanceState("")
	assert.NoError(t, err)
	assert.Equal(t, StateDetached, got)
}

func TestParseInstanceState_UnknownRawFails(t *testing.T) {
	_, err := ParseInstanceState("sleeping")
	assert.Error(t, err)
}

func TestNormalizeProviderState_UnrecognizedDegradesToUnknown(t *testing.T) {
	assert.Equal(t, StateUnknown, NormalizeProviderState("sleeping"))
	assert.Equal(t, StateRunning, NormalizeProviderState("RUNNING"))
	assert.Equal(t, StateDetached, NormalizeProviderState("stopped"))
}

func TestAssertTransition_NilCurrentTreatedAsDetached(t *testing.T) {
	assert.NoError(t, AssertTransition(nil, StateRunning, "test"))
	assert.Error(t, AssertTransition(nil, StatePaused, "test"))
}

func TestAssertTransition_LegalGraph(t *testing.T) {
	legal := []struct {
		from, to InstanceState
	}{
		{StateDetached, StateRunning},
		{StateDetached, StateUnknown},
		{StateRunning, StatePaused},
		{StateRunning, StateDetached},
		{StateRunning, StateUnknown},
		{StatePaused, StateRunning},
		{StatePaused, StateDetached},
		{StatePaused, StateUnknown},
		{StateUnknown, StateRunning},
		{StateUnknown, StatePaused},
		{StateUnknown, StateDetached},
	}
	for _, tc := range legal {
		from := tc.from
		assert.NoError(t, AssertTransition(&from, tc.to, "test"), "%s -> %s", tc.from, tc.to)
	}
}

func TestAssertTransition_IllegalRejected(t *testing.T) {
	illegal := []struct {
		from, to InstanceState
	}{
		{StateDetached, StatePaused},
		{StatePaused, StatePaused}, // same-state is allowed (no-op), but listed to document it's not "illegal"
	}
	from := illegal[0].from
	assert.Error(t, AssertTransition(&from, illegal[0].to, "test"))

	same := StatePaused
	assert.NoError(t, AssertTransition(&same, StatePaused, "test"))
}
