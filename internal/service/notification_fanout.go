package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"dashboard-messaging/internal/bus"
	"dashboard-messaging/internal/domain"
	"dashboard-messaging/internal/events"
	"dashboard-messaging/internal/realtime"
	"dashboard-messaging/internal/repository"
)

const (
	messageNotificationTitle = "New message"
	fileNotificationText     = "sent a file"
	excerptRunes             = 100
	unknownSenderName        = "Someone"
)

// NotificationFanout consume chat.message.created y crea notificaciones para
// los destinatarios que no están conectados.
type NotificationFanout struct {
	logger        *zap.Logger
	notifications *NotificationService
	users         repository.UserRepository
	presence      realtime.Presence
	alwaysNotify  map[string]bool
	linkBase      string
}

func NewNotificationFanout(
	logger *zap.Logger,
	notifications *NotificationService,
	users repository.UserRepository,
	presence realtime.Presence,
	alwaysNotify map[string]bool,
	linkBase string,
) *NotificationFanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	if alwaysNotify == nil {
		alwaysNotify = map[string]bool{}
	}
	return &NotificationFanout{
		logger:        logger,
		notifications: notifications,
		users:         users,
		presence:      presence,
		alwaysNotify:  alwaysNotify,
		linkBase:      strings.TrimRight(linkBase, "/"),
	}
}

// Start suscribe el fan-out al canal de mensajes nuevos.
func (f *NotificationFanout) Start(ctx context.Context, b bus.Bus) (bus.Subscription, error) {
	return b.Subscribe(ctx, events.ChannelNewMessage, f.Handle)
}

// Handle procesa un sobre del bus. Los sobres inválidos se descartan y los
// errores por destinatario no frenan al resto.
func (f *NotificationFanout) Handle(ctx context.Context, raw []byte) error {
	ev, err := events.Decode(raw)
	if err != nil {
		f.logger.Warn("dropping invalid message event", zap.Error(err))
		return nil
	}
	created, ok := ev.(events.MessageCreated)
	if !ok {
		f.logger.Warn("unexpected event on new message channel", zap.String("type", fmt.Sprintf("%T", ev)))
		return nil
	}

	recipients := Recipients(created)
	if len(recipients) == 0 {
		return nil
	}
	text := fmt.Sprintf("%s: %s", f.senderName(ctx, created.SenderID), excerpt(created.Message))
	link := f.linkBase + "/" + created.ConversationID
	always := f.alwaysNotify[created.CompanyID]

	for _, recipient := range recipients {
		if !always && f.isOnline(ctx, created, recipient) {
			continue
		}
		_, err := f.notifications.Create(ctx, CreateNotificationInput{
			CompanyID:   created.CompanyID,
			RecipientID: recipient,
			Title:       messageNotificationTitle,
			Message:     text,
			Type:        domain.NotificationTypeMessage,
			Link:        &link,
		})
		if err != nil {
			f.logger.Error("create message notification failed",
				zap.String("conversation_id", created.ConversationID),
				zap.String("recipient_id", recipient),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Recipients devuelve a quién notificar: todos los miembros menos el autor.
// En una conversación de dos es el otro participante; RecipientID sólo
// identifica a quién corresponde la foto de presencia.
func Recipients(ev events.MessageCreated) []string {
	out := make([]string, 0, len(ev.MemberIDs))
	for _, id := range dedupe(ev.MemberIDs) {
		if id != ev.SenderID {
			out = append(out, id)
		}
	}
	return out
}

func (f *NotificationFanout) isOnline(ctx context.Context, ev events.MessageCreated, userID string) bool {
	if f.presence != nil {
		online, err := f.presence.IsOnline(ctx, userID)
		if err == nil {
			return online
		}
		f.logger.Warn("presence check failed", zap.String("user_id", userID), zap.Error(err))
	}
	// sin registro de presencia se usa la foto tomada al publicar
	return userID == ev.RecipientID && ev.RecipientStatus == events.RecipientOnline
}

func (f *NotificationFanout) senderName(ctx context.Context, senderID string) string {
	if f.users == nil {
		return unknownSenderName
	}
	u, err := f.users.GetByID(ctx, senderID)
	if err != nil {
		f.logger.Debug("sender lookup failed", zap.String("sender_id", senderID), zap.Error(err))
		return unknownSenderName
	}
	if name := strings.TrimSpace(u.Name()); name != "" {
		return name
	}
	return unknownSenderName
}

func excerpt(msg domain.Message) string {
	if msg.Content == nil || strings.TrimSpace(*msg.Content) == "" {
		return fileNotificationText
	}
	text := strings.Join(strings.Fields(*msg.Content), " ")
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:excerptRunes]) + "..."
}
