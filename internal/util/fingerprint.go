package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint computes a stable hash for a diagnostic key
func Fingerprint(stage, unit string, line int, class, message string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s", stage, unit, line, class, message)
	return hex.EncodeToString(h.Sum(nil))
}
