package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating an identity.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RegisterRequest creates a new identity.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Nome      string `json:"nome" validate:"required,max=100"`
	Cognome   string `json:"cognome" validate:"required,max=100"`
	Telefono  string `json:"telefono" validate:"omitempty,max=30"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and identity info.
type LoginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         IdentityInfo `json:"user"`
	IssuedAt     time.Time    `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LogoutRequest revokes a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// IdentityInfo describes the authenticated identity in responses. It carries
// no privilege: admin status is only ever decided server side per request.
type IdentityInfo struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	DisplayName      string `json:"display_name"`
	ApprovedForParty bool   `json:"approved_for_party"`
}

// NewIdentityInfo projects an identity for auth responses.
func NewIdentityInfo(identity *Identity) IdentityInfo {
	return IdentityInfo{
		ID:               identity.ID,
		Email:            identity.Email,
		DisplayName:      identity.DisplayName(),
		ApprovedForParty: identity.ApprovedForParty(),
	}
}

// SessionClaims is the access token payload. Only the subject and email are
// carried.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
