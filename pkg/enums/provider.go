package enums

import (
	"fmt"
	"strings"
)

// ProviderKind identifies the WhatsApp gateway that owns a connection.
type ProviderKind string

const (
	ProviderEvolution ProviderKind = "evolution"
	ProviderZAPI      ProviderKind = "zapi"
)

var validProviderKinds = []ProviderKind{
	ProviderEvolution,
	ProviderZAPI,
}

func (p ProviderKind) IsValid() bool {
	for _, candidate := range validProviderKinds {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProviderKind is case-insensitive and accepts "z-api".
func ParseProviderKind(value string) (ProviderKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "")
	for _, candidate := range validProviderKinds {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider %q", value)
}

// HistorySyncStatus tracks the message history import of a connection.
type HistorySyncStatus string

const (
	HistorySyncIdle    HistorySyncStatus = "idle"
	HistorySyncSyncing HistorySyncStatus = "syncing"
	HistorySyncError   HistorySyncStatus = "error"
)

var validHistorySyncStatuses = []HistorySyncStatus{
	HistorySyncIdle,
	HistorySyncSyncing,
	HistorySyncError,
}

func (s HistorySyncStatus) IsValid() bool {
	for _, candidate := range validHistorySyncStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// AllowedPredecessors lists the states from which s may be entered: any
// other state. Ordering comes from the event timestamp guard in the
// transition, not from the graph.
func (s HistorySyncStatus) AllowedPredecessors() []HistorySyncStatus {
	switch s {
	case HistorySyncSyncing:
		return []HistorySyncStatus{HistorySyncIdle, HistorySyncError}
	case HistorySyncIdle:
		return []HistorySyncStatus{HistorySyncSyncing, HistorySyncError}
	case HistorySyncError:
		return []HistorySyncStatus{HistorySyncSyncing, HistorySyncIdle}
	}
	return nil
}

// ProviderEventType is the canonical, provider-agnostic event classification.
type ProviderEventType string

const (
	EventTypeMessageReceived  ProviderEventType = "message_received"
	EventTypeMessageStatus    ProviderEventType = "message_status"
	EventTypeMessageSent      ProviderEventType = "message_sent"
	EventTypeConnectionUpdate ProviderEventType = "connection_update"
	EventTypeHistorySync      ProviderEventType = "history_sync"
	EventTypePresence         ProviderEventType = "presence"
	EventTypeOther            ProviderEventType = "other"
)

// IsStatusClass reports whether the event may move history_sync_status.
func (t ProviderEventType) IsStatusClass() bool {
	return t == EventTypeConnectionUpdate || t == EventTypeHistorySync
}
