package entity

import "time"

// MessageType represents the type of an imported message
type MessageType string

const (
	MessageTypeText    MessageType = "text"
	MessageTypeImage   MessageType = "image"
	MessageTypeAudio   MessageType = "audio"
	MessageTypeVideo   MessageType = "video"
	MessageTypeFile    MessageType = "file"
	MessageTypeSticker MessageType = "sticker"
)

// IsMedia reports whether messages of this type carry a downloadable payload.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeAudio, MessageTypeVideo, MessageTypeFile, MessageTypeSticker:
		return true
	}
	return false
}

// ClassifyMessageType maps a provider type tag to the local enum. Anything
// unrecognized is treated as text.
func ClassifyMessageType(tag string) MessageType {
	switch MessageType(tag) {
	case MessageTypeText, MessageTypeImage, MessageTypeAudio,
		MessageTypeVideo, MessageTypeFile, MessageTypeSticker:
		return MessageType(tag)
	}
	switch tag {
	case "document":
		return MessageTypeFile
	case "chat", "conversation", "extendedText":
		return MessageTypeText
	}
	return MessageTypeText
}

// Message is one imported chat message. Rows are append-only: once stored,
// only a missing media URL may be backfilled by a later run.
type Message struct {
	ID                string      `json:"id"`
	ConversationID    string      `json:"conversation_id"`
	ChildID           string      `json:"child_id"`
	SenderLabel       string      `json:"sender_label"`
	IsFromChild       bool        `json:"is_from_child"`
	Type              MessageType `json:"type"`
	Timestamp         time.Time   `json:"timestamp"`
	TextContent       string      `json:"text_content,omitempty"`
	TextExcerpt       string      `json:"text_excerpt,omitempty"`
	MediaURL          string      `json:"media_url,omitempty"`
	MediaThumbnail    string      `json:"media_thumbnail,omitempty"`
	ExternalMessageID string      `json:"external_message_id,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// DedupKey returns the key used to decide whether this message was already
// imported: the external message id when the provider supplies one, otherwise
// the message timestamp within its conversation.
func (m *Message) DedupKey() string {
	if m.ExternalMessageID != "" {
		return "ext:" + m.ExternalMessageID
	}
	return "ts:" + m.Timestamp.UTC().Format(time.RFC3339Nano)
}
