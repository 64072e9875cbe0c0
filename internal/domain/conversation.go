package domain

import "time"

type Conversation struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	MemberIDs []string  `json:"memberIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationSummary es la fila que ve un miembro en su listado.
type ConversationSummary struct {
	Conversation
	UnreadCount int64 `json:"unreadCount"`
}

// Membership autoriza a un usuario en la conversación y guarda su última lectura.
type Membership struct {
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	LastReadAt     *time.Time `json:"lastReadAt"`
}

// ConversationAccess resume la verificación de acceso de un usuario.
type ConversationAccess struct {
	CompanyID string
	IsMember  bool
}

// OtherMembers devuelve los miembros excepto userID, preservando el orden.
func (c Conversation) OtherMembers(userID string) []string {
	out := make([]string, 0, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}
