package dist

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SHA256 returns the "sha256:<hex>" digest of data, the form recorded in
// lock files.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// FormatHash turns an index hash map entry into "algo:hex". Only sha256 is
// recorded; weaker algorithms are ignored.
func FormatHash(hashes map[string]string) string {
	if h, ok := hashes["sha256"]; ok && h != "" {
		return "sha256:" + strings.ToLower(h)
	}
	return ""
}
