package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewSubmissionCode produces a human-readable submission code such as
// ERB-2026-a1b2c3. Codes are not guaranteed unique; the submission id is.
func NewSubmissionCode() string {
	bytes := make([]byte, 3)
	_, _ = rand.Read(bytes)
	return fmt.Sprintf("ERB-%s-%s", time.Now().Format("2006"), hex.EncodeToString(bytes))
}
