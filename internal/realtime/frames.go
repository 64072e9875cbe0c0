package realtime

import "encoding/json"

// Eventos servidor -> cliente.
const (
	EventMessageNew          = "chat:message:new"
	EventConversationUpdated = "chat:conversation:updated"
	EventNotificationNew     = "notification:new"
	EventNotificationRead    = "notification:read"
	EventError               = "error"
	EventJoined              = "joined"
	EventLeft                = "left"
)

// Frame es la forma de todo lo que el servidor escribe en el socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func UserRoom(userID string) string {
	return "user:" + userID
}

func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

func encodeFrame(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}
