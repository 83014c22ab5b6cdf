// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import "strings"

// Canonical heartbeat statuses.
const (
	StatusOK     = "ok"
	StatusWarn   = "warn"
	StatusError  = "error"
	StatusAsleep = "asleep"
)

// Canonical heartbeat event types.
const (
	EventAgentCheck     = "agent_check"
	EventAgentStart     = "agent_start"
	EventAgentStop      = "agent_stop"
	EventSyncComplete   = "sync_complete"
	EventSyncError      = "sync_error"
	EventUpdateApplied  = "update_applied"
	EventConfigChange   = "config_change"
	EventDeviceAsleep   = "device_asleep"
	EventDeviceShutdown = "device_shutdown"
)

// NormalizedEvent is the canonical (status, event type) pair every raw
// heartbeat resolves to.
type NormalizedEvent struct {
	Status    string `json:"status"`
	EventType string `json:"eventType"`
}

// eventTypeTable maps known event types to their canonical form plus the
// status implied when the agent sent no usable status of its own.
var eventTypeTable = map[string]NormalizedEvent{
	EventAgentCheck:     {StatusOK, EventAgentCheck},
	EventAgentStart:     {StatusOK, EventAgentStart},
	EventAgentStop:      {StatusWarn, EventAgentStop},
	EventSyncComplete:   {StatusOK, EventSyncComplete},
	EventSyncError:      {StatusError, EventSyncError},
	EventUpdateApplied:  {StatusOK, EventUpdateApplied},
	EventConfigChange:   {StatusOK, EventConfigChange},
	EventDeviceAsleep:   {StatusAsleep, EventDeviceAsleep},
	EventDeviceShutdown: {StatusAsleep, EventDeviceShutdown},
}

// eventTypeAliases maps spellings older agent versions used onto canonical
// event types.
var eventTypeAliases = map[string]string{
	"check":         EventAgentCheck,
	"checkin":       EventAgentCheck,
	"check_in":      EventAgentCheck,
	"ping":          EventAgentCheck,
	"startup":       EventAgentStart,
	"start":         EventAgentStart,
	"boot":          EventAgentStart,
	"stop":          EventAgentStop,
	"shutdown":      EventDeviceShutdown,
	"sleep":         EventDeviceAsleep,
	"suspend":       EventDeviceAsleep,
	"sync_ok":       EventSyncComplete,
	"sync_done":     EventSyncComplete,
	"sync_finished": EventSyncComplete,
	"sync_fail":     EventSyncError,
	"sync_failed":   EventSyncError,
	"update":        EventUpdateApplied,
	"upgraded":      EventUpdateApplied,
	"config":        EventConfigChange,
	"settings":      EventConfigChange,
}

// statusTable maps raw status spellings to canonical statuses.
var statusTable = map[string]string{
	"ok":       StatusOK,
	"okay":     StatusOK,
	"good":     StatusOK,
	"healthy":  StatusOK,
	"up":       StatusOK,
	"success":  StatusOK,
	"warn":     StatusWarn,
	"warning":  StatusWarn,
	"degraded": StatusWarn,
	"error":    StatusError,
	"err":      StatusError,
	"fail":     StatusError,
	"failed":   StatusError,
	"critical": StatusError,
	"down":     StatusError,
	"asleep":   StatusAsleep,
	"sleep":    StatusAsleep,
	"sleeping": StatusAsleep,
}

// Normalize resolves any raw (status, eventType) pair from an agent into a
// canonical NormalizedEvent. Lookup order: exact event-type match, then the
// alias table, then a status-only fallback, then the warn/agent_check
// default. Total: it always returns a valid pair.
func Normalize(rawStatus, rawEventType string) NormalizedEvent {
	eventType := strings.ToLower(strings.TrimSpace(rawEventType))
	status := strings.ToLower(strings.TrimSpace(rawStatus))

	norm, matched := eventTypeTable[eventType]
	if !matched {
		if canonical, ok := eventTypeAliases[eventType]; ok {
			norm, matched = eventTypeTable[canonical], true
		}
	}

	if matched {
		// A recognized raw status wins over the event type's implied one.
		if mapped, ok := statusTable[status]; ok {
			norm.Status = mapped
		}
		return norm
	}

	if mapped, ok := statusTable[status]; ok {
		return NormalizedEvent{Status: mapped, EventType: EventAgentCheck}
	}

	return NormalizedEvent{Status: StatusWarn, EventType: EventAgentCheck}
}
