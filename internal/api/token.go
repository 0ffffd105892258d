package api

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims mirrors the slice of the backend's token payload the agent needs.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	UserID    int    `json:"user_id"`
	ClassID   int    `json:"class_id,omitempty"`
}

// StudentIDFromToken extracts the student id claim from the issued auth
// token. The signature is not verified here: the backend is the verifier on
// every request, the agent only needs the identity for payloads it builds.
func StudentIDFromToken(token string) (int, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("parse auth token: %w", err)
	}
	if claims.UserID == 0 {
		return 0, errors.New("auth token carries no student id")
	}
	return claims.UserID, nil
}
