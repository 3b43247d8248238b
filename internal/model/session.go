package model

import "time"

// RefreshTokenLifetime is fixed; it is not configurable.
const RefreshTokenLifetime = 7 * 24 * time.Hour

type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Token     string     `json:"-"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// SessionAudit records one login session. LogoutTime stays nil while the
// session is open.
type SessionAudit struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	LoginTime  time.Time  `json:"loginTime"`
	LogoutTime *time.Time `json:"logoutTime"`
}

func (a SessionAudit) IsOpen() bool {
	return a.LogoutTime == nil
}

type LoginResult struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

type RefreshResult struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
}

type AuditQuery struct {
	Page  int
	Limit int
}

type AuditListData struct {
	Items []SessionAudit `json:"items"`
}
