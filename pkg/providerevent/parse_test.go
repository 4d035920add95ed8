package providerevent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
)

func TestParsePayload_E2B_Lifecycle(t *testing.T) {
	cases := []struct {
		eventType string
		want      providerevent.ObservedStatus
	}{
		{"sandbox.lifecycle.created", providerevent.StatusRunning},
		{"sandbox.lifecycle.resumed", providerevent.StatusRunning},
		{"sandbox.lifecycle.updated", providerevent.StatusRunning},
		{"sandbox.lifecycle.paused", providerevent.StatusPaused},
		{"sandbox.lifecycle.killed", providerevent.StatusDetached},
	}
	for _, tc := range cases {
		obs, err := providerevent.ParsePayload("e2b", map[string]any{
			"type":      tc.eventType,
			"sandboxId": "sbx-123",
			"timestamp": "2026-01-01T00:00:00Z",
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, obs.Status)
		assert.Equal(t, "e2b", obs.ProviderName)
		assert.Equal(t, "sbx-123", obs.InstanceID)
		require.NotNil(t, obs.ObservedAt)
	}
}

func TestParsePayload_E2B_UnsupportedEventType(t *testing.T) {
	_, err := providerevent.ParsePayload("e2b", map[string]any{
		"type":      "sandbox.lifecycle.mystery",
		"sandboxId": "sbx-123",
	})
	assert.Error(t, err)
}

func TestParsePayload_E2B_MissingFields(t *testing.T) {
	_, err := providerevent.ParsePayload("e2b", map[string]any{"sandboxId": "sbx-123"})
	assert.Error(t, err)

	_, err = providerevent.ParsePayload("e2b", map[string]any{"type": "sandbox.lifecycle.created"})
	assert.Error(t, err)
}

func TestParsePayload_Daytona_DirectEvents(t *testing.T) {
	cases := []struct {
		event string
		want  providerevent.ObservedStatus
	}{
		{"sandbox.created", providerevent.StatusRunning},
		{"sandbox.started", providerevent.StatusRunning},
		{"sandbox.stopped", providerevent.StatusPaused},
		{"sandbox.archived", providerevent.StatusPaused},
		{"sandbox.deleted", providerevent.StatusDetached},
		{"sandbox.destroyed", providerevent.StatusDetached},
	}
	for _, tc := range cases {
		obs, err := providerevent.ParsePayload("daytona", map[string]any{
			"event": tc.event,
			"data":  map[string]any{"sandboxId": "ws-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, obs.Status)
	}
}

func TestParsePayload_Daytona_StateUpdated(t *testing.T) {
	obs, err := providerevent.ParsePayload("daytona", map[string]any{
		"event": "sandbox.state.updated",
		"data":  map[string]any{"sandbox_id": "ws-2", "state": "running"},
	})
	require.NoError(t, err)
	assert.Equal(t, providerevent.StatusRunning, obs.Status)
	assert.Equal(t, "ws-2", obs.InstanceID)

	_, err = providerevent.ParsePayload("daytona", map[string]any{
		"event": "sandbox.state.updated",
		"data":  map[string]any{"id": "ws-3", "status": "mystery"},
	})
	assert.Error(t, err)
}

func TestParsePayload_Daytona_MissingID(t *testing.T) {
	_, err := providerevent.ParsePayload("daytona", map[string]any{
		"event": "sandbox.created",
		"data":  map[string]any{},
	})
	assert.Error(t, err)
}

func TestParsePayload_UnsupportedProvider(t *testing.T) {
	_, err := providerevent.ParsePayload("agentbay", map[string]any{})
	assert.Error(t, err)
}

func TestExtractInstanceID(t *testing.T) {
	assert.Equal(t, "abc", providerevent.ExtractInstanceID(map[string]any{"instance_id": "abc"}))
	assert.Equal(t, "xyz", providerevent.ExtractInstanceID(map[string]any{"data": map[string]any{"sandbox_id": "xyz"}}))
	assert.Equal(t, "", providerevent.ExtractInstanceID(map[string]any{"unrelated": "field"}))
}
