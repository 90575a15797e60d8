package identity

import "github.com/benvon/letmeask/internal/models"

// User is the identity record as the provider reports it. DisplayName and
// PhotoURL are empty when the provider did not release them.
type User struct {
	UID           string `json:"uid"`
	DisplayName   string `json:"displayName,omitempty"`
	PhotoURL      string `json:"photoURL,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	ProviderID    string `json:"providerId"`
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// UserCredential is the result of a completed sign-in.
type UserCredential struct {
	User       *User
	ProviderID string
	Claims     *models.JWTClaims
}

func userFromClaims(c *models.JWTClaims, providerID string) *User {
	return &User{
		UID:           c.Sub,
		DisplayName:   c.Name,
		PhotoURL:      c.Picture,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		ProviderID:    providerID,
	}
}
