// Package utils provides small helpers shared across the delivery engine,
// primarily identifier generation.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateRandomID generates a cryptographically secure random hex ID of the
// given length. Each byte yields two hex characters, so odd lengths come out
// one character short.
func GenerateRandomID(length int) string {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("system random source failed: %v", err))
	}
	return hex.EncodeToString(bytes)
}

// GenerateUUID generates a UUID v4.
func GenerateUUID() string {
	return uuid.NewString()
}

// GenerateAttemptID generates a unique request-attempt ID in the format
// "att-{randomHex}-{timestamp}". The timestamp suffix keeps IDs roughly
// sortable by creation time.
func GenerateAttemptID() string {
	return fmt.Sprintf("att-%s-%d", GenerateRandomID(16), time.Now().Unix())
}
