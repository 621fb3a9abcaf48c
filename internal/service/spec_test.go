package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	rec := NewRecord(NewSpec("echo", "echoes its input"))
	require.Equal(t, StatusDraft, rec.Status)

	steps := []Status{StatusActivating, StatusActive, StatusTesting, StatusPassed, StatusPublished}
	for _, next := range steps {
		require.NoError(t, rec.Transition(next, ""))
	}
	assert.Equal(t, StatusPublished, rec.Status)
	assert.True(t, rec.Status.Terminal())
	assert.Len(t, rec.History, len(steps))
}

func TestLifecycleRepairLoop(t *testing.T) {
	rec := NewRecord(NewSpec("echo", ""))
	require.NoError(t, rec.Transition(StatusActivating, ""))
	require.NoError(t, rec.Transition(StatusActive, ""))
	require.NoError(t, rec.Transition(StatusTesting, ""))
	require.NoError(t, rec.Transition(StatusFailed, "assertion_mismatch"))
	require.NoError(t, rec.Transition(StatusRepairing, ""))
	require.NoError(t, rec.Transition(StatusActivating, ""))
}

func TestIllegalTransitions(t *testing.T) {
	rec := NewRecord(NewSpec("echo", ""))

	err := rec.Transition(StatusPublished, "")
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StatusDraft, rec.Status, "failed transition must not change status")
	assert.Empty(t, rec.History, "failed transition must not append history")

	require.NoError(t, rec.Transition(StatusActivating, ""))

	// Repairing is only reachable through Failed.
	require.ErrorIs(t, rec.Transition(StatusRepairing, ""), ErrIllegalTransition)

	require.NoError(t, rec.Transition(StatusFailed, ""))
	require.NoError(t, rec.Transition(StatusAbandoned, "budget exhausted"))
	assert.True(t, rec.Status.Terminal())

	// Terminal states accept nothing.
	assert.ErrorIs(t, rec.Transition(StatusActivating, ""), ErrIllegalTransition)
}

func TestHistoryIsAppendOnly(t *testing.T) {
	rec := NewRecord(NewSpec("echo", ""))
	require.NoError(t, rec.Transition(StatusActivating, "first"))
	first := rec.History[0]

	rec.Attempts = 3
	require.NoError(t, rec.Transition(StatusFailed, "second"))

	require.Len(t, rec.History, 2)
	assert.Equal(t, first, rec.History[0], "existing events must never be rewritten")
	assert.Equal(t, 3, rec.History[1].Attempt)
	assert.Equal(t, "second", rec.History[1].Note)
}

func TestAddDependency(t *testing.T) {
	spec := NewSpec("fetch", "")
	spec.AddDependency("gopkg.in/yaml.v3")
	spec.AddDependency("gopkg.in/yaml.v3")
	assert.Equal(t, []string{"gopkg.in/yaml.v3"}, spec.Dependencies)
	assert.True(t, spec.HasDependency("gopkg.in/yaml.v3"))
	assert.False(t, spec.HasDependency("github.com/google/uuid"))
}

func TestSlugFromDescription(t *testing.T) {
	assert.Equal(t, "fetch_current_weather_for", SlugFromDescription("Fetch current weather for a city, in Celsius"))
	assert.Equal(t, "", SlugFromDescription("!!! ..."))
}
