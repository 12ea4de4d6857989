package webhooks

import (
	"strings"
	"time"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

type payload map[string]any

func (p payload) str(key string) string {
	v, ok := p[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func (p payload) obj(key string) payload {
	v, ok := p[key].(map[string]any)
	if !ok {
		return nil
	}
	return payload(v)
}

func (p payload) boolean(key string) bool {
	v, ok := p[key].(bool)
	return ok && v
}

func (p payload) number(key string) (float64, bool) {
	v, ok := p[key].(float64)
	return v, ok
}

// instanceName is the only place that knows where each provider puts the
// instance identifier.
func instanceName(provider enums.ProviderKind, body payload) string {
	switch provider {
	case enums.ProviderEvolution:
		if name := body.str("instanceName"); name != "" {
			return name
		}
		return body.str("instance")
	case enums.ProviderZAPI:
		if name := body.str("instance"); name != "" {
			return name
		}
		return body.str("instanceId")
	}
	return ""
}

var evolutionEventTypes = map[string]enums.ProviderEventType{
	"messages.upsert":       enums.EventTypeMessageReceived,
	"messages.update":       enums.EventTypeMessageStatus,
	"send.message":          enums.EventTypeMessageSent,
	"connection.update":     enums.EventTypeConnectionUpdate,
	"messaging-history.set": enums.EventTypeHistorySync,
	"messages.set":          enums.EventTypeHistorySync,
	"presence.update":       enums.EventTypePresence,
}

var zapiEventTypes = map[string]enums.ProviderEventType{
	"receivedcallback":      enums.EventTypeMessageReceived,
	"messagestatuscallback": enums.EventTypeMessageStatus,
	"deliverycallback":      enums.EventTypeMessageSent,
	"connectedcallback":     enums.EventTypeConnectionUpdate,
	"disconnectedcallback":  enums.EventTypeConnectionUpdate,
	"presencechatcallback":  enums.EventTypePresence,
}

// evolutionEventKey folds "MESSAGES_UPSERT" and "messages.upsert" together.
// The history event keeps its dash.
func evolutionEventKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "messaging_history_set" {
		return "messaging-history.set"
	}
	return strings.ReplaceAll(key, "_", ".")
}

func classify(provider enums.ProviderKind, body payload) enums.ProviderEventType {
	switch provider {
	case enums.ProviderEvolution:
		if t, ok := evolutionEventTypes[evolutionEventKey(body.str("event"))]; ok {
			return t
		}
	case enums.ProviderZAPI:
		t, ok := zapiEventTypes[strings.ToLower(body.str("type"))]
		if !ok {
			return enums.EventTypeOther
		}
		// Z-API echoes messages typed on the phone as ReceivedCallback.
		if t == enums.EventTypeMessageReceived && body.boolean("fromMe") {
			return enums.EventTypeMessageSent
		}
		return t
	}
	return enums.EventTypeOther
}

// eventTime returns the provider's own timestamp, falling back to now.
func eventTime(provider enums.ProviderKind, body payload, now time.Time) time.Time {
	switch provider {
	case enums.ProviderEvolution:
		if raw := body.str("date_time"); raw != "" {
			if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				return ts.UTC()
			}
		}
		if data := body.obj("data"); data != nil {
			if secs, ok := data.number("messageTimestamp"); ok && secs > 0 {
				return time.Unix(int64(secs), 0).UTC()
			}
		}
	case enums.ProviderZAPI:
		if ms, ok := body.number("momment"); ok && ms > 0 {
			return time.UnixMilli(int64(ms)).UTC()
		}
	}
	return now.UTC()
}

// syncTarget maps a status-class event to the history sync state it implies.
// On Evolution, connecting starts an import, a disconnect aborts it and the
// final history chunk completes it. Z-API never streams history, so a
// connect settles straight to idle.
func syncTarget(provider enums.ProviderKind, eventType enums.ProviderEventType, body payload) (enums.HistorySyncStatus, bool) {
	if !eventType.IsStatusClass() {
		return "", false
	}
	switch provider {
	case enums.ProviderEvolution:
		data := body.obj("data")
		if eventType == enums.EventTypeHistorySync {
			if data != nil {
				if data.boolean("isLatest") {
					return enums.HistorySyncIdle, true
				}
				if progress, ok := data.number("progress"); ok && progress >= 100 {
					return enums.HistorySyncIdle, true
				}
			}
			return enums.HistorySyncSyncing, true
		}
		if data == nil {
			return "", false
		}
		switch strings.ToLower(data.str("state")) {
		case "open":
			return enums.HistorySyncSyncing, true
		case "close", "refused":
			return enums.HistorySyncError, true
		}
	case enums.ProviderZAPI:
		switch strings.ToLower(body.str("type")) {
		case "connectedcallback":
			return enums.HistorySyncIdle, true
		case "disconnectedcallback":
			return enums.HistorySyncError, true
		}
	}
	return "", false
}

// messageID is the provider message identifier used to drop redeliveries.
func messageID(provider enums.ProviderKind, body payload) string {
	switch provider {
	case enums.ProviderEvolution:
		if data := body.obj("data"); data != nil {
			if key := data.obj("key"); key != nil {
				return key.str("id")
			}
		}
	case enums.ProviderZAPI:
		return body.str("messageId")
	}
	return ""
}
