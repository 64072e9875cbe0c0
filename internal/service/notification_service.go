package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dashboard-messaging/internal/cache"
	"dashboard-messaging/internal/domain"
	"dashboard-messaging/internal/realtime"
	"dashboard-messaging/internal/repository"
	"dashboard-messaging/internal/requestid"
	"dashboard-messaging/internal/telemetry"
)

const (
	DefaultNotificationLimit = 20
	MaxNotificationLimit     = 100
)

var ErrNotificationsNotConfigured = errors.New("notification service not configured")

// NotificationService lista, crea y marca notificaciones; cada escritura
// invalida las cachés del destinatario y se empuja a su sala personal.
type NotificationService struct {
	logger       *zap.Logger
	repo         repository.NotificationRepository
	users        repository.UserRepository
	cache        cache.Cache
	emitter      realtime.Emitter
	counters     *telemetry.Counters
	storeTimeout time.Duration
	now          func() time.Time
}

func NewNotificationService(
	logger *zap.Logger,
	repo repository.NotificationRepository,
	users repository.UserRepository,
	c cache.Cache,
	emitter realtime.Emitter,
	storeTimeout time.Duration,
) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.NewNoop()
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &NotificationService{
		logger:       logger,
		repo:         repo,
		users:        users,
		cache:        c,
		emitter:      emitter,
		storeTimeout: storeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *NotificationService) WithCounters(c telemetry.Counters) *NotificationService {
	s.counters = &c
	return s
}

type CreateNotificationInput struct {
	CompanyID   string
	RecipientID string
	Title       string
	Message     string
	Type        string
	Link        *string
}

// MarkReadResult resume el resultado de marcar notificaciones como leídas.
type MarkReadResult struct {
	UpdatedIDs  []string `json:"updatedIds"`
	UnreadCount int64    `json:"unreadCount"`
}

// NotificationCreated es el payload de notification:new.
type NotificationCreated struct {
	Notification domain.Notification `json:"notification"`
}

func (s *NotificationService) List(ctx context.Context, userID, companyID string, limit, offset int, unreadOnly bool) (domain.NotificationPage, error) {
	if s == nil || s.repo == nil {
		return domain.NotificationPage{}, ErrNotificationsNotConfigured
	}
	if err := requireIdentity(userID, companyID); err != nil {
		return domain.NotificationPage{}, err
	}
	if limit == 0 {
		limit = DefaultNotificationLimit
	}
	if limit < 1 || limit > MaxNotificationLimit {
		return domain.NotificationPage{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxNotificationLimit)
	}
	if offset < 0 {
		return domain.NotificationPage{}, fmt.Errorf("%w: offset must not be negative", ErrValidation)
	}

	key := cache.NotificationListKey(companyID, userID, limit, offset, unreadOnly)
	var cached domain.NotificationPage
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	items, total, err := s.repo.List(storeCtx, userID, companyID, limit, offset, unreadOnly)
	if err != nil {
		return domain.NotificationPage{}, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := s.repo.CountUnread(storeCtx, userID, companyID)
	if err != nil {
		return domain.NotificationPage{}, fmt.Errorf("count unread notifications: %w", err)
	}
	page := domain.NotificationPage{Items: items, Total: total, UnreadCount: unread}
	s.writeCache(ctx, key, page, cache.TTLNotificationList)
	return page, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID, companyID string) (int64, error) {
	if s == nil || s.repo == nil {
		return 0, ErrNotificationsNotConfigured
	}
	if err := requireIdentity(userID, companyID); err != nil {
		return 0, err
	}

	key := cache.NotificationUnreadKey(companyID, userID)
	var cached int64
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}
	count, err := s.countUnread(ctx, userID, companyID)
	if err != nil {
		return 0, err
	}
	s.writeCache(ctx, key, count, cache.TTLNotificationCount)
	return count, nil
}

// MarkAsRead marca sólo las notificaciones propias y no leídas de la lista.
func (s *NotificationService) MarkAsRead(ctx context.Context, userID, companyID string, ids []string) (MarkReadResult, error) {
	if s == nil || s.repo == nil {
		return MarkReadResult{}, ErrNotificationsNotConfigured
	}
	if err := requireIdentity(userID, companyID); err != nil {
		return MarkReadResult{}, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return MarkReadResult{}, fmt.Errorf("%w: ids required", ErrValidation)
	}

	var before int64
	hadBefore := s.readCache(ctx, cache.NotificationUnreadKey(companyID, userID), &before)

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	updated, err := s.repo.MarkRead(storeCtx, userID, companyID, ids)
	cancel()
	if err != nil {
		s.logger.Error("mark notifications read failed", requestid.Field(ctx), zap.String("user_id", userID), zap.Error(err))
		return MarkReadResult{}, fmt.Errorf("mark notifications read: %w", err)
	}
	if updated == nil {
		updated = []string{}
	}

	s.invalidate(ctx, companyID, userID)

	// las filas ya cambiaron: un conteo fallido no convierte el request en error
	unread, err := s.countUnread(ctx, userID, companyID)
	if err != nil {
		unread = 0
		if hadBefore && before > int64(len(updated)) {
			unread = before - int64(len(updated))
		}
		s.logger.Warn("unread count after mark read failed, using estimate",
			requestid.Field(ctx),
			zap.String("user_id", userID),
			zap.Int64("estimate", unread),
			zap.Error(err),
		)
	}
	result := MarkReadResult{UpdatedIDs: updated, UnreadCount: unread}
	s.emit(ctx, userID, realtime.EventNotificationRead, result)
	return result, nil
}

// Create persiste la notificación y la empuja a la sala personal del destinatario.
func (s *NotificationService) Create(ctx context.Context, in CreateNotificationInput) (domain.Notification, error) {
	if s == nil || s.repo == nil {
		return domain.Notification{}, ErrNotificationsNotConfigured
	}

	in.CompanyID = strings.TrimSpace(in.CompanyID)
	in.RecipientID = strings.TrimSpace(in.RecipientID)
	in.Title = strings.TrimSpace(in.Title)
	in.Message = strings.TrimSpace(in.Message)
	in.Type = strings.TrimSpace(in.Type)
	if in.CompanyID == "" {
		return domain.Notification{}, ErrUnauthorized
	}
	if in.RecipientID == "" || in.Title == "" || in.Message == "" {
		return domain.Notification{}, fmt.Errorf("%w: recipientId, title and message are required", ErrValidation)
	}
	if in.Type == "" {
		in.Type = domain.NotificationTypeInfo
	}
	link := trimmedOrNil(in.Link)

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if s.users != nil {
		n, err := s.users.CountInCompany(storeCtx, in.CompanyID, []string{in.RecipientID})
		if err != nil {
			return domain.Notification{}, fmt.Errorf("check recipient: %w", err)
		}
		if n != 1 {
			return domain.Notification{}, fmt.Errorf("%w: recipient does not belong to the company", ErrValidation)
		}
	}

	n := domain.Notification{
		ID:          uuid.NewString(),
		CompanyID:   in.CompanyID,
		RecipientID: in.RecipientID,
		Title:       in.Title,
		Message:     in.Message,
		Type:        in.Type,
		Link:        link,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(storeCtx, n); err != nil {
		s.logger.Error("create notification failed", requestid.Field(ctx), zap.String("recipient_id", n.RecipientID), zap.Error(err))
		return domain.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	if s.counters != nil {
		s.counters.NotificationsCreated.Add(ctx, 1)
	}

	s.invalidate(ctx, n.CompanyID, n.RecipientID)
	s.emit(ctx, n.RecipientID, realtime.EventNotificationNew, NotificationCreated{Notification: n})
	return n, nil
}

func (s *NotificationService) countUnread(ctx context.Context, userID, companyID string) (int64, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	count, err := s.repo.CountUnread(storeCtx, userID, companyID)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *NotificationService) invalidate(ctx context.Context, companyID, userID string) {
	if err := s.cache.DeletePattern(ctx, cache.NotificationListPrefix(companyID, userID)); err != nil {
		s.logger.Warn("notification list invalidation failed", requestid.Field(ctx), zap.String("user_id", userID), zap.Error(err))
	}
	if err := s.cache.Delete(ctx, cache.NotificationUnreadKey(companyID, userID)); err != nil {
		s.logger.Warn("notification count invalidation failed", requestid.Field(ctx), zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *NotificationService) readCache(ctx context.Context, key string, out any) bool {
	err := cache.GetJSON(ctx, s.cache, key, out)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Debug("cache read failed", requestid.Field(ctx), zap.String("key", key), zap.Error(err))
	}
	return false
}

func (s *NotificationService) writeCache(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := cache.SetJSON(ctx, s.cache, key, value, ttl); err != nil {
		s.logger.Debug("cache write failed", requestid.Field(ctx), zap.String("key", key), zap.Error(err))
	}
}

func (s *NotificationService) emit(ctx context.Context, userID, event string, data any) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, realtime.UserRoom(userID), event, data); err != nil {
		s.logger.Warn("realtime emit failed", requestid.Field(ctx), zap.String("user_id", userID), zap.String("event", event), zap.Error(err))
	}
}

func requireIdentity(userID, companyID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(companyID) == "" {
		return ErrUnauthorized
	}
	return nil
}
