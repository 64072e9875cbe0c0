package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"dashboard-messaging/internal/bus"
	"dashboard-messaging/internal/cache"
	"dashboard-messaging/internal/domain"
	"dashboard-messaging/internal/events"
	"dashboard-messaging/internal/realtime"
	"dashboard-messaging/internal/repository"
	"dashboard-messaging/internal/requestid"
	"dashboard-messaging/internal/telemetry"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 100
)

var ErrMessagingNotConfigured = errors.New("messaging service not configured")

// Timeouts agrupa los límites de tiempo de las dependencias externas.
type Timeouts struct {
	Store   time.Duration
	Publish time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Store <= 0 {
		t.Store = 5 * time.Second
	}
	if t.Publish <= 0 {
		t.Publish = 2 * time.Second
	}
	return t
}

// MessagingService persiste mensajes, invalida cachés, publica el evento de
// nuevo mensaje y difunde los cambios a las salas realtime.
type MessagingService struct {
	logger        *zap.Logger
	conversations repository.ConversationRepository
	memberships   repository.MembershipRepository
	messages      repository.MessageRepository
	users         repository.UserRepository
	cache         cache.Cache
	bus           bus.Bus
	emitter       realtime.Emitter
	presence      realtime.Presence
	limiter       PostRateLimiter
	counters      *telemetry.Counters
	timeouts      Timeouts
	now           func() time.Time
}

func NewMessagingService(
	logger *zap.Logger,
	conversations repository.ConversationRepository,
	memberships repository.MembershipRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	c cache.Cache,
	b bus.Bus,
	emitter realtime.Emitter,
	presence realtime.Presence,
	timeouts Timeouts,
) *MessagingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.NewNoop()
	}
	return &MessagingService{
		logger:        logger,
		conversations: conversations,
		memberships:   memberships,
		messages:      messages,
		users:         users,
		cache:         c,
		bus:           b,
		emitter:       emitter,
		presence:      presence,
		timeouts:      timeouts.withDefaults(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithCounters activa las métricas OpenTelemetry del servicio.
func (s *MessagingService) WithCounters(c telemetry.Counters) *MessagingService {
	s.counters = &c
	return s
}

// WithRateLimiter limita los envíos por usuario; sin limiter no hay límite.
func (s *MessagingService) WithRateLimiter(l PostRateLimiter) *MessagingService {
	s.limiter = l
	return s
}

type PostMessageInput struct {
	ConversationID string
	SenderID       string
	CompanyID      string
	Content        *string
	Type           domain.MessageType
	FileURL        *string
	FileMetadata   []byte
}

// MessagePosted es el payload de chat:message:new.
type MessagePosted struct {
	ConversationID string         `json:"conversationId"`
	Message        domain.Message `json:"message"`
}

// ConversationUpdated es el payload de chat:conversation:updated.
type ConversationUpdated struct {
	ConversationID string `json:"conversationId"`
}

func (s *MessagingService) configured() bool {
	return s != nil && s.conversations != nil && s.memberships != nil && s.messages != nil
}

func (s *MessagingService) PostMessage(ctx context.Context, in PostMessageInput) (domain.Message, error) {
	if !s.configured() {
		return domain.Message{}, ErrMessagingNotConfigured
	}

	content := trimmedOrNil(in.Content)
	fileURL := trimmedOrNil(in.FileURL)
	if content == nil && fileURL == nil {
		return domain.Message{}, fmt.Errorf("%w: content or fileUrl required", ErrValidation)
	}
	msgType := domain.MessageType(strings.ToLower(strings.TrimSpace(string(in.Type))))
	if msgType == "" {
		msgType = domain.MessageTypeText
		if content == nil {
			msgType = domain.MessageTypeFile
		}
	}
	if !msgType.Valid() {
		return domain.Message{}, fmt.Errorf("%w: unknown message type %q", ErrValidation, in.Type)
	}

	conv, err := s.memberConversation(ctx, in.ConversationID, in.SenderID, in.CompanyID)
	if err != nil {
		return domain.Message{}, err
	}
	if s.limiter != nil && !s.limiter.Allow(ctx, conv.CompanyID+":"+in.SenderID) {
		return domain.Message{}, ErrRateLimited
	}

	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        content,
		Type:           msgType,
		FileURL:        fileURL,
		FileMetadata:   in.FileMetadata,
		Status:         domain.MessageStatusSent,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	msg.CreatedAt, err = s.messages.Create(storeCtx, msg)
	cancel()
	if err != nil {
		s.logger.Error("persist message failed", requestid.Field(ctx), zap.String("conversation_id", conv.ID), zap.Error(err))
		return domain.Message{}, fmt.Errorf("create message: %w", err)
	}
	if s.counters != nil {
		s.counters.MessagesPosted.Add(ctx, 1)
	}

	s.invalidatePattern(ctx, cache.MessagePagePrefix(conv.ID))
	s.invalidateMembers(ctx, conv)

	// un único plazo para todo lo que sale al bus en este request
	fanoutCtx, cancel := context.WithTimeout(ctx, s.timeouts.Publish)
	defer cancel()
	s.publishCreated(fanoutCtx, conv, msg)

	s.emit(fanoutCtx, realtime.ConversationRoom(conv.ID), realtime.EventMessageNew, MessagePosted{ConversationID: conv.ID, Message: msg})
	for _, member := range conv.MemberIDs {
		s.emit(fanoutCtx, realtime.UserRoom(member), realtime.EventConversationUpdated, ConversationUpdated{ConversationID: conv.ID})
	}
	return msg, nil
}

// GetMessages devuelve los últimos limit mensajes, del más viejo al más nuevo.
// La membresía se verifica antes de mirar la caché.
func (s *MessagingService) GetMessages(ctx context.Context, conversationID, requesterID, companyID string, limit int) ([]domain.Message, error) {
	if !s.configured() {
		return nil, ErrMessagingNotConfigured
	}
	if limit == 0 {
		limit = DefaultMessageLimit
	}
	if limit < 1 || limit > MaxMessageLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxMessageLimit)
	}
	if err := s.authorize(ctx, conversationID, requesterID, companyID); err != nil {
		return nil, err
	}

	key := cache.MessagePageKey(conversationID, limit)
	var cached []domain.Message
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	msgs, err := s.messages.ListRecent(storeCtx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	s.writeCache(ctx, key, msgs, cache.TTLMessagePage)
	return msgs, nil
}

// MarkRead mueve lastReadAt del lector y marca como leídos los mensajes ajenos.
func (s *MessagingService) MarkRead(ctx context.Context, conversationID, requesterID, companyID string) error {
	if !s.configured() {
		return ErrMessagingNotConfigured
	}
	conv, err := s.memberConversation(ctx, conversationID, requesterID, companyID)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	updated, err := s.memberships.MarkRead(storeCtx, conv.ID, requesterID)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccessDenied
		}
		s.logger.Error("mark read failed", requestid.Field(ctx), zap.String("conversation_id", conv.ID), zap.Error(err))
		return fmt.Errorf("mark read: %w", err)
	}

	if updated > 0 {
		s.invalidatePattern(ctx, cache.MessagePagePrefix(conv.ID))
	}
	s.invalidateMembers(ctx, conv)

	fanoutCtx, cancel := context.WithTimeout(ctx, s.timeouts.Publish)
	defer cancel()
	payload := ConversationUpdated{ConversationID: conv.ID}
	s.emit(fanoutCtx, realtime.ConversationRoom(conv.ID), realtime.EventConversationUpdated, payload)
	s.emit(fanoutCtx, realtime.UserRoom(requesterID), realtime.EventConversationUpdated, payload)
	return nil
}

// CreateConversation abre una conversación entre miembros del mismo tenant.
func (s *MessagingService) CreateConversation(ctx context.Context, companyID, creatorID string, memberIDs []string) (domain.Conversation, error) {
	if !s.configured() || s.users == nil {
		return domain.Conversation{}, ErrMessagingNotConfigured
	}
	companyID = strings.TrimSpace(companyID)
	creatorID = strings.TrimSpace(creatorID)
	if companyID == "" || creatorID == "" {
		return domain.Conversation{}, ErrUnauthorized
	}

	members := dedupe(append([]string{creatorID}, memberIDs...))
	if len(members) < 2 {
		return domain.Conversation{}, fmt.Errorf("%w: a conversation needs at least two members", ErrValidation)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	found, err := s.users.CountInCompany(storeCtx, companyID, members)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("check members: %w", err)
	}
	if found != len(members) {
		return domain.Conversation{}, fmt.Errorf("%w: every member must belong to the company", ErrValidation)
	}

	now := s.now()
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		MemberIDs: members,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.conversations.Create(storeCtx, conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	s.invalidateMembers(ctx, conv)
	for _, member := range members {
		s.emit(ctx, realtime.UserRoom(member), realtime.EventConversationUpdated, ConversationUpdated{ConversationID: conv.ID})
	}
	return conv, nil
}

func (s *MessagingService) ListConversations(ctx context.Context, userID, companyID string) ([]domain.ConversationSummary, error) {
	if !s.configured() {
		return nil, ErrMessagingNotConfigured
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(companyID) == "" {
		return nil, ErrUnauthorized
	}

	key := cache.ConversationListKey(userID)
	var cached []domain.ConversationSummary
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	list, err := s.conversations.ListForUser(storeCtx, userID, companyID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	s.writeCache(ctx, key, list, cache.TTLConversationList)
	return list, nil
}

// UnreadCount devuelve la cantidad derivada de mensajes ajenos sin leer.
func (s *MessagingService) UnreadCount(ctx context.Context, conversationID, userID, companyID string) (int64, error) {
	if !s.configured() {
		return 0, ErrMessagingNotConfigured
	}
	if err := s.authorize(ctx, conversationID, userID, companyID); err != nil {
		return 0, err
	}

	key := cache.UnreadCountKey(userID, conversationID)
	var cached int64
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	count, err := s.memberships.UnreadCount(storeCtx, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", mapRepoErr(err))
	}
	s.writeCache(ctx, key, count, cache.TTLUnreadCount)
	return count, nil
}

// ListDirectTargets devuelve los demás usuarios del tenant.
func (s *MessagingService) ListDirectTargets(ctx context.Context, userID, companyID string) ([]domain.User, error) {
	if s == nil || s.users == nil {
		return nil, ErrMessagingNotConfigured
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(companyID) == "" {
		return nil, ErrUnauthorized
	}

	key := cache.DirectTargetsKey(companyID, userID)
	var cached []domain.User
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	users, err := s.users.ListByCompany(storeCtx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	targets := make([]domain.User, 0, len(users))
	for _, u := range users {
		if u.ID != userID {
			targets = append(targets, u)
		}
	}
	s.writeCache(ctx, key, targets, cache.TTLDirectTargets)
	return targets, nil
}

// CanAccess verifica membresía y tenant; lo usa el socket antes de unirse a una sala.
func (s *MessagingService) CanAccess(ctx context.Context, conversationID, userID, companyID string) error {
	if !s.configured() {
		return ErrMessagingNotConfigured
	}
	return s.authorize(ctx, conversationID, userID, companyID)
}

func (s *MessagingService) authorize(ctx context.Context, conversationID, userID, companyID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(companyID) == "" {
		return ErrUnauthorized
	}
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation id required", ErrValidation)
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	access, err := s.conversations.Access(storeCtx, conversationID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("check access: %w", err)
	}
	if !access.IsMember || access.CompanyID != companyID {
		return ErrAccessDenied
	}
	return nil
}

func (s *MessagingService) memberConversation(ctx context.Context, conversationID, userID, companyID string) (domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(companyID) == "" {
		return domain.Conversation{}, ErrUnauthorized
	}
	if strings.TrimSpace(conversationID) == "" {
		return domain.Conversation{}, fmt.Errorf("%w: conversation id required", ErrValidation)
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	conv, err := s.conversations.GetByID(storeCtx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Conversation{}, ErrNotFound
		}
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if conv.CompanyID != companyID || !contains(conv.MemberIDs, userID) {
		return domain.Conversation{}, ErrAccessDenied
	}
	return conv, nil
}

func (s *MessagingService) publishCreated(ctx context.Context, conv domain.Conversation, msg domain.Message) {
	if s.bus == nil {
		return
	}
	ev := events.MessageCreated{
		ConversationID: conv.ID,
		Message:        msg,
		SenderID:       msg.SenderID,
		MemberIDs:      conv.MemberIDs,
		CompanyID:      conv.CompanyID,
		Timestamp:      msg.CreatedAt,
	}
	if others := conv.OtherMembers(msg.SenderID); len(others) == 1 {
		ev.RecipientID = others[0]
		ev.RecipientStatus = s.presenceSnapshot(ctx, others[0])
	}

	payload, err := events.Encode(ev)
	if err != nil {
		s.logger.Error("encode message event failed", requestid.Field(ctx), zap.Error(err))
		return
	}

	if err := s.bus.Publish(ctx, events.ChannelNewMessage, payload); err != nil {
		if s.counters != nil {
			s.counters.PublishFailures.Add(ctx, 1, metric.WithAttributes(telemetry.ChannelAttr(events.ChannelNewMessage)))
		}
		s.logger.Warn("publish message event failed",
			requestid.Field(ctx),
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

func (s *MessagingService) presenceSnapshot(ctx context.Context, userID string) string {
	if s.presence == nil {
		return ""
	}
	online, err := s.presence.IsOnline(ctx, userID)
	if err != nil {
		s.logger.Debug("presence snapshot failed", requestid.Field(ctx), zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	if online {
		return events.RecipientOnline
	}
	return events.RecipientOffline
}

func (s *MessagingService) invalidateMembers(ctx context.Context, conv domain.Conversation) {
	keys := make([]string, 0, len(conv.MemberIDs)*2)
	for _, member := range conv.MemberIDs {
		keys = append(keys, cache.ConversationListKey(member), cache.UnreadCountKey(member, conv.ID))
	}
	if err := s.cache.DeleteBatch(ctx, keys); err != nil {
		s.logger.Warn("cache invalidation failed", requestid.Field(ctx), zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

func (s *MessagingService) invalidatePattern(ctx context.Context, prefix string) {
	if err := s.cache.DeletePattern(ctx, prefix); err != nil {
		s.logger.Warn("cache pattern invalidation failed", requestid.Field(ctx), zap.String("prefix", prefix), zap.Error(err))
	}
}

func (s *MessagingService) readCache(ctx context.Context, key string, out any) bool {
	err := cache.GetJSON(ctx, s.cache, key, out)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Debug("cache read failed", requestid.Field(ctx), zap.String("key", key), zap.Error(err))
	}
	return false
}

func (s *MessagingService) writeCache(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := cache.SetJSON(ctx, s.cache, key, value, ttl); err != nil {
		s.logger.Debug("cache write failed", requestid.Field(ctx), zap.String("key", key), zap.Error(err))
	}
}

func (s *MessagingService) emit(ctx context.Context, room, event string, data any) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, room, event, data); err != nil {
		s.logger.Warn("realtime emit failed", requestid.Field(ctx), zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
