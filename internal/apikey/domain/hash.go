package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashAPIKey digests a plaintext tracker key for storage. Ingest auth
// locates keys by this digest (Repository.FindActiveByHash), so the
// function must stay deterministic across releases or every issued key
// stops authenticating.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
