package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Admin sessions: an admin credential can be exchanged for a short-lived
// signed token so the slow bcrypt comparison runs once per session instead
// of once per management call.

// AdminClaims is what an admin session token carries.
type AdminClaims struct {
	CredentialID   uuid.UUID
	OrganizationID uuid.UUID
}

// GenerateAdminToken creates a short-lived session token for an admin credential
func GenerateAdminToken(credentialID, orgID uuid.UUID, secret []byte, ttl time.Duration) (string, int64, error) {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	expiresAt := time.Now().Add(ttl).Unix()
	claims := jwt.MapClaims{
		"sub": credentialID.String(),
		"org": orgID.String(),
		"exp": expiresAt,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAdminToken verifies a session token and extracts its claims
func ValidateAdminToken(tokenString string, secret []byte) (*AdminClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	sub, _ := claims["sub"].(string)
	org, _ := claims["org"].(string)

	credID, err := uuid.Parse(sub)
	if err != nil {
		return nil, errors.New("invalid token subject")
	}
	orgID, err := uuid.Parse(org)
	if err != nil {
		return nil, errors.New("invalid token organization")
	}

	return &AdminClaims{CredentialID: credID, OrganizationID: orgID}, nil
}
