package authsvc

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenTTL is the session token's validity window.
const tokenTTL = 24 * time.Hour

// sessionClaims is the opaque-to-clients envelope carried by the session
// token. Clients never present it back over the wire protocol; only
// VerifyToken below parses it.
type sessionClaims struct {
	UserID   uuid.UUID `json:"uid"`
	Username string    `json:"username"`
	Platform string    `json:"platform"`
	jwt.RegisteredClaims
}

// mintToken signs an opaque session token for userID, binding the
// username and platform at issuance time.
func mintToken(secret []byte, userID uuid.UUID, username, platform string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID:   userID,
		Username: username,
		Platform: platform,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("authsvc: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a previously-minted session token and returns its
// claims. Not exercised by the wire protocol today (tokens are
// informational), but kept so a future reconnect flow can verify one
// without a protocol change.
func VerifyToken(secret []byte, tokenString string) (userID uuid.UUID, username, platform string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return uuid.Nil, "", "", fmt.Errorf("authsvc: parse token: %w", err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return uuid.Nil, "", "", fmt.Errorf("authsvc: invalid token")
	}
	return claims.UserID, claims.Username, claims.Platform, nil
}
