package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the session cookie set on login.
const CookieName = "netsblox"

// Issuer identifies tokens minted by this server.
const Issuer = "netsblox-cloud"

// SessionClaims holds the JWT claims for a browser session. Subject is the
// username.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// NewSessionToken creates a signed session token for the given username.
func NewSessionToken(username, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("session secret must not be empty")
	}

	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ValidateSessionToken parses and validates a session token, enforcing HMAC
// signing and the issuer claim. It returns the username.
func ValidateSessionToken(tokenStr, secret string) (string, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
