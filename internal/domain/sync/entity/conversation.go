package entity

import "time"

// Conversation mirrors one remote chat thread for a monitored child.
// The provider's own chat id is not persisted; a thread is matched by
// (child_id, external_name), so name is the dedup key for threads.
type Conversation struct {
	ID            string     `json:"id"`
	ChildID       string     `json:"child_id"`
	ExternalName  string     `json:"external_name"`
	IsGroup       bool       `json:"is_group"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
