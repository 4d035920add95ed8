package providerevent

import (
	"fmt"
	"strings"
	"time"
)

// parseFunc turns a decoded webhook body into an Observation. Registered
// per provider name in parsers below; ParsePayload is the only exported
// entry point, so there is no switch-on-provider-name dispatch above
// this package either.
type parseFunc func(payload map[string]any) (Observation, error)

var parsers = map[string]parseFunc{
	"e2b":     parseE2B,
	"daytona": parseDaytona,
}

// ParsePayload parses a decoded JSON webhook body from providerName.
func ParsePayload(providerName string, payload map[string]any) (Observation, error) {
	name := strings.ToLower(strings.TrimSpace(providerName))
	fn, ok := parsers[name]
	if !ok {
		return Observation{}, fmt.Errorf("providerevent: unsupported webhook provider: %s", providerName)
	}
	return fn(payload)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func parseTimestamp(v any) *time.Time {
	s := asString(v)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func parseE2B(payload map[string]any) (Observation, error) {
	eventType := asString(payload["type"])
	instanceID := asString(payload["sandboxId"])
	observedAt := parseTimestamp(payload["timestamp"])
	if eventType == "" {
		return Observation{}, fmt.Errorf("providerevent: e2b webhook missing 'type'")
	}
	if instanceID == "" {
		return Observation{}, fmt.Errorf("providerevent: e2b webhook missing 'sandboxId'")
	}

	var status ObservedStatus
	switch eventType {
	case "sandbox.lifecycle.created", "sandbox.lifecycle.resumed", "sandbox.lifecycle.updated":
		status = StatusRunning
	case "sandbox.lifecycle.paused":
		status = StatusPaused
	case "sandbox.lifecycle.killed":
		status = StatusDetached
	default:
		return Observation{}, fmt.Errorf("providerevent: unsupported e2b event type: %s", eventType)
	}

	return Observation{
		ProviderName: "e2b",
		InstanceID:   instanceID,
		Status:       status,
		ObservedAt:   observedAt,
		EventType:    eventType,
	}, nil
}

func parseDaytona(payload map[string]any) (Observation, error) {
	eventType := asString(payload["event"])
	data := asMap(payload["data"])
	observedAt := parseTimestamp(payload["timestamp"])
	if eventType == "" {
		return Observation{}, fmt.Errorf("providerevent: daytona webhook missing 'event'")
	}

	instanceID := asString(data["sandboxId"])
	if instanceID == "" {
		instanceID = asString(data["sandbox_id"])
	}
	if instanceID == "" {
		instanceID = asString(data["id"])
	}
	if instanceID == "" {
		return Observation{}, fmt.Errorf("providerevent: daytona webhook missing sandbox id in data")
	}

	lowerEvent := strings.ToLower(eventType)
	state := asString(data["state"])
	if state == "" {
		state = asString(data["status"])
	}
	lowerState := strings.ToLower(state)

	var status ObservedStatus
	switch {
	case lowerEvent == "sandbox.created" || lowerEvent == "sandbox.started" || lowerEvent == "sandbox.recovered":
		status = StatusRunning
	case lowerEvent == "sandbox.stopped" || lowerEvent == "sandbox.paused" || lowerEvent == "sandbox.archived":
		status = StatusPaused
	case lowerEvent == "sandbox.deleted" || lowerEvent == "sandbox.removed" || lowerEvent == "sandbox.destroyed":
		status = StatusDetached
	case lowerEvent == "sandbox.state.updated":
		switch {
		case lowerState == "running" || lowerState == "started":
			status = StatusRunning
		case lowerState == "stopped" || lowerState == "paused" || lowerState == "archived":
			status = StatusPaused
		case lowerState == "deleted" || lowerState == "destroyed" || lowerState == "removed":
			status = StatusDetached
		default:
			return Observation{}, fmt.Errorf("providerevent: unsupported daytona state in sandbox.state.updated: %s", state)
		}
	default:
		return Observation{}, fmt.Errorf("providerevent: unsupported daytona event type: %s", eventType)
	}

	return Observation{
		ProviderName: "daytona",
		InstanceID:   instanceID,
		Status:       status,
		ObservedAt:   observedAt,
		EventType:    eventType,
	}, nil
}

// ExtractInstanceID pulls a provider-agnostic identifier out of a raw
// webhook body using the field-name lookup the HTTP layer needs before
// it even knows which provider-specific parser applies (e.g. for the
// 400 response when no id is present at all). It tries top-level
// fields first, then the same fields nested one level under "data".
func ExtractInstanceID(payload map[string]any) string {
	for _, key := range []string{"session_id", "sandbox_id", "sandboxId", "instance_id", "id"} {
		if v := asString(payload[key]); v != "" {
			return v
		}
	}
	if data := asMap(payload["data"]); data != nil {
		for _, key := range []string{"session_id", "sandbox_id", "sandboxId", "instance_id", "id"} {
			if v := asString(data[key]); v != "" {
				return v
			}
		}
	}
	return ""
}
