package domain

import "time"

const (
	NotificationTypeInfo    = "info"
	NotificationTypeMessage = "message"
)

type Notification struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"companyId"`
	RecipientID string    `json:"recipientId"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Type        string    `json:"type"`
	Link        *string   `json:"link"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NotificationPage es el resultado paginado del listado de notificaciones.
type NotificationPage struct {
	Items       []Notification `json:"notifications"`
	Total       int64          `json:"total"`
	UnreadCount int64          `json:"unreadCount"`
}
