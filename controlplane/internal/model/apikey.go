package model

import (
	"crypto/sha256"

	"golang.org/x/crypto/bcrypt"
)

// HashAPIKey hashes the SHA-256 of key so keys longer than bcrypt's
// 72-byte limit still count in full.
func HashAPIKey(key string) (string, error) {
	h := sha256.Sum256([]byte(key))
	hash, err := bcrypt.GenerateFromPassword(h[:], bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyAPIKey(hash, key string) bool {
	h := sha256.Sum256([]byte(key))
	return bcrypt.CompareHashAndPassword([]byte(hash), h[:]) == nil
}
