// Package hashutil derives stable identity tokens for distributed locks.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// HashStrings returns a SHA256 hex digest of the parts, newline separated.
func HashStrings(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// OwnerToken identifies the current process instance at this moment. Two
// processes, or two lock attempts by the same process, never collide.
func OwnerToken() string {
	host, _ := os.Hostname()
	return HashStrings(host, fmt.Sprint(os.Getpid()), fmt.Sprint(time.Now().UnixNano()))
}
