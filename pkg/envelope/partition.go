package envelope

import "fmt"

// StreamName is the main event partition for a project.
func StreamName(projectID string) string {
	return fmt.Sprintf("proj:%s:events", projectID)
}

// UserOutbox is the user-facing outbox partition for a project.
func UserOutbox(projectID string) string {
	return fmt.Sprintf("proj:%s:user_outbox", projectID)
}

// DeadLetter is the dead-letter partition for a project.
func DeadLetter(projectID string) string {
	return fmt.Sprintf("proj:%s:dlq", projectID)
}

// DedupeKey is the KV key recording that message_id was handled
// successfully by group on project.
func DedupeKey(projectID, group, messageID string) string {
	return fmt.Sprintf("dedupe:%s:%s:%s", projectID, group, messageID)
}

// LockKey is the KV key enforcing mutual exclusion over backlogItemID.
func LockKey(projectID, backlogItemID string) string {
	return fmt.Sprintf("lock:%s:%s", projectID, backlogItemID)
}
