package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Clients never send plaintext passwords: they send sha512(password) and the
// server stores sha512(salt || clientHash). Both hex-encoded. The scheme is
// fixed by the deployed browser clients, so it cannot change server-side.

// NewSalt returns a fresh random salt, hex-encoded.
func NewSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashPassword derives the stored hash from the client-side hash and salt.
func HashPassword(clientHash, salt string) string {
	sum := sha512.Sum512([]byte(salt + clientHash))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword checks a login attempt in constant time.
func VerifyPassword(clientHash, salt, storedHash string) bool {
	derived := HashPassword(clientHash, salt)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(storedHash)) == 1
}
