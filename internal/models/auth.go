package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the JWT payload used to resolve an authenticated user id
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
