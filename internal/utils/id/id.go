// Package id generates identifiers for intervention runs and LLM requests.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns a short run identifier: the first 8 hex characters of a
// UUIDv4. Collisions are possible but tolerated; run IDs are cosmetic and
// always paired with a timestamp in file names.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewRequestID returns a full UUID for correlating LLM request logs.
func NewRequestID() string {
	return uuid.NewString()
}
