package domain

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeFile  MessageType = "file"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeSound MessageType = "sound"
)

// Valid indica si el tipo es uno de los soportados.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeFile, MessageTypeImage, MessageTypeVideo, MessageTypeSound:
		return true
	}
	return false
}

// MessageStatus sólo avanza: sent -> delivered -> read.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	}
	return 0
}

// ParseMessageStatus lee un estado persistido; un valor desconocido cuenta como sent.
func ParseMessageStatus(raw string) MessageStatus {
	return MessageStatusSent.Advance(MessageStatus(raw))
}

// Advance devuelve el estado resultante de aplicar next sin retroceder nunca.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Content        *string         `json:"content"`
	Type           MessageType     `json:"type"`
	FileURL        *string         `json:"fileUrl"`
	FileMetadata   json.RawMessage `json:"fileMetadata"`
	Status         MessageStatus   `json:"status"`
	ReadAt         *time.Time      `json:"readAt"`
	CreatedAt      time.Time       `json:"createdAt"`
}
