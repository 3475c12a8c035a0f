package platform

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// DeriveIdempotencyKey turns one caller-supplied key into a distinct,
// stable key per step of a multi-request operation. The result is formatted
// as a version 4 UUID so the Platform accepts it. An empty base yields "".
func DeriveIdempotencyKey(base, suffix string) string {
	if base == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(base + "-" + suffix))
	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id.String()
}
