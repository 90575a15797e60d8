package models

// JWTClaims represents the claims extracted from a verified ID token
type JWTClaims struct {
	Sub           string `json:"sub"`            // Subject (user ID from provider)
	Email         string `json:"email"`          // User email
	EmailVerified bool   `json:"email_verified"` // Provider asserts the email is verified
	Name          string `json:"name"`           // Display name
	Picture       string `json:"picture"`        // Profile photo URL
	Exp           int64  `json:"exp"`            // Expiration time
	Iat           int64  `json:"iat"`            // Issued at
	Iss           string `json:"iss"`            // Issuer
	Aud           string `json:"aud"`            // Audience
}
