package enums

import "fmt"

// ConversationStatus maps to the conversation_status enum in Postgres.
type ConversationStatus string

const (
	ConversationStatusOpen   ConversationStatus = "open"
	ConversationStatusClosed ConversationStatus = "closed"
)

var validConversationStatuses = []ConversationStatus{
	ConversationStatusOpen,
	ConversationStatusClosed,
}

// IsValid reports whether the value matches a known conversation status.
func (s ConversationStatus) IsValid() bool {
	for _, candidate := range validConversationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseConversationStatus converts raw input into ConversationStatus.
func ParseConversationStatus(value string) (ConversationStatus, error) {
	for _, candidate := range validConversationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conversation status %q", value)
}

// AssignmentAction labels an AssignmentHistory entry.
type AssignmentAction string

const (
	AssignmentActionAccepted    AssignmentAction = "accepted"
	AssignmentActionTransferred AssignmentAction = "transferred"
	AssignmentActionReleased    AssignmentAction = "released"
	AssignmentActionClosed      AssignmentAction = "closed"
)

var validAssignmentActions = []AssignmentAction{
	AssignmentActionAccepted,
	AssignmentActionTransferred,
	AssignmentActionReleased,
	AssignmentActionClosed,
}

func (a AssignmentAction) IsValid() bool {
	for _, candidate := range validAssignmentActions {
		if candidate == a {
			return true
		}
	}
	return false
}
