package domain

import "time"

type User struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"companyId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Name devuelve el nombre visible con fallback al email.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Identity es la identidad que adjunta el colaborador de autenticación.
type Identity struct {
	UserID    string `json:"userId"`
	CompanyID string `json:"companyId"`
}
