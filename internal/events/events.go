package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dashboard-messaging/internal/domain"
)

// Canales del bus compartidos entre servicios.
const (
	ChannelNewMessage = "events:new_message"
	ChannelRealtime   = "events:realtime"
)

// Tipos conocidos de la unión etiquetada.
const (
	TypeMessageCreated = "chat.message.created"
	TypeRoomEmit       = "realtime.room.emit"
)

// Valores de RecipientStatus: foto de presencia al momento de publicar.
const (
	RecipientOnline  = "online"
	RecipientOffline = "offline"
)

const currentVersion = 1

var (
	ErrUnknownEvent = errors.New("events: unknown event type")
	ErrBadVersion   = errors.New("events: unsupported version")
	ErrInvalidEvent = errors.New("events: invalid payload")
)

// Envelope es el sobre versionado que viaja por el bus.
type Envelope struct {
	Type    string          `json:"type"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Event es cualquier variante de la unión.
type Event interface {
	eventType() string
	validate() error
}

// MessageCreated se publica una vez por cada mensaje persistido.
type MessageCreated struct {
	ConversationID  string         `json:"conversationId"`
	Message         domain.Message `json:"message"`
	SenderID        string         `json:"senderId"`
	RecipientID     string         `json:"recipientId,omitempty"`
	RecipientStatus string         `json:"recipientStatus,omitempty"`
	MemberIDs       []string       `json:"memberIds"`
	CompanyID       string         `json:"companyId"`
	Timestamp       time.Time      `json:"timestamp"`
}

func (MessageCreated) eventType() string { return TypeMessageCreated }

func (e MessageCreated) validate() error {
	switch {
	case strings.TrimSpace(e.ConversationID) == "":
		return fmt.Errorf("%w: conversationId required", ErrInvalidEvent)
	case strings.TrimSpace(e.SenderID) == "":
		return fmt.Errorf("%w: senderId required", ErrInvalidEvent)
	case strings.TrimSpace(e.CompanyID) == "":
		return fmt.Errorf("%w: companyId required", ErrInvalidEvent)
	case e.Message.ID == "":
		return fmt.Errorf("%w: message.id required", ErrInvalidEvent)
	case e.Message.ConversationID != e.ConversationID:
		return fmt.Errorf("%w: message belongs to another conversation", ErrInvalidEvent)
	case e.Message.SenderID != e.SenderID:
		return fmt.Errorf("%w: message sender differs from senderId", ErrInvalidEvent)
	case len(e.MemberIDs) < 2:
		return fmt.Errorf("%w: memberIds needs at least two members", ErrInvalidEvent)
	case !hasMember(e.MemberIDs, e.SenderID):
		return fmt.Errorf("%w: senderId is not a member", ErrInvalidEvent)
	}
	if e.RecipientID != "" {
		switch {
		case e.RecipientID == e.SenderID:
			return fmt.Errorf("%w: recipientId equals senderId", ErrInvalidEvent)
		case !hasMember(e.MemberIDs, e.RecipientID):
			return fmt.Errorf("%w: recipientId is not a member", ErrInvalidEvent)
		}
	}
	switch e.RecipientStatus {
	case "", RecipientOnline, RecipientOffline:
	default:
		return fmt.Errorf("%w: unknown recipientStatus %q", ErrInvalidEvent, e.RecipientStatus)
	}
	return nil
}

func hasMember(members []string, id string) bool {
	for _, m := range members {
		if m == id {
			return true
		}
	}
	return false
}

// RoomEmit replica un evento realtime hacia las instancias que tienen los sockets.
type RoomEmit struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

func (RoomEmit) eventType() string { return TypeRoomEmit }

func (e RoomEmit) validate() error {
	switch {
	case e.Origin == "":
		return fmt.Errorf("%w: origin required", ErrInvalidEvent)
	case e.Room == "":
		return fmt.Errorf("%w: room required", ErrInvalidEvent)
	case e.Event == "":
		return fmt.Errorf("%w: event required", ErrInvalidEvent)
	}
	return nil
}

// Encode valida y envuelve el evento en la versión actual.
func Encode(e Event) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: e.eventType(), Version: currentVersion, Data: data})
}

// Decode valida el sobre y devuelve la variante concreta.
// Formas desconocidas se rechazan en lugar de confiar en la presencia de campos.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if env.Version != currentVersion {
		return nil, fmt.Errorf("%w: %s v%d", ErrBadVersion, env.Type, env.Version)
	}

	var ev Event
	switch env.Type {
	case TypeMessageCreated:
		var e MessageCreated
		if err := decodeStrict(env.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	case TypeRoomEmit:
		var e RoomEmit
		if err := decodeStrict(env.Data, &e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if err := ev.validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// decodeStrict rechaza campos desconocidos y basura después del objeto.
func decodeStrict(data []byte, out any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty data", ErrInvalidEvent)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidEvent)
	}
	return nil
}
