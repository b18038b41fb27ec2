// Package convstore maps conversation fingerprints to Canvas session ids so
// follow-up requests reuse the backend chat history instead of opening a
// fresh one.
package convstore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Entry is what the registry stores per fingerprint.
type Entry struct {
	SessionID string `json:"session_id"`
	AccountID int64  `json:"account_id"`
}

// Registry is the lookup/registration contract. A lookup miss means a new
// session is created; registration failure is logged by the caller and is
// never fatal to the caller-visible response.
type Registry interface {
	Lookup(fingerprint string) (Entry, bool)
	Register(fingerprint string, entry Entry)
}

// Fingerprint derives a stable key from the request's prior message history
// and model. The last user turn is excluded by the caller, so a follow-up
// request whose history ends where the previous response ended maps to the
// same key.
func Fingerprint(model string, parts []string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
