package credential

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	keyScheme    = "sf_"
	prefixChars  = 8
	secretChars  = 40
	base62       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	prefixLength = len(keyScheme) + prefixChars
	keyLength    = prefixLength + 1 + secretChars
)

// generateKey returns a new plaintext key and its public prefix.
// Format: sf_<8 base62>_<40 base62>.
func generateKey() (plaintext, prefix string, err error) {
	head, err := randomBase62(prefixChars)
	if err != nil {
		return "", "", err
	}
	tail, err := randomBase62(secretChars)
	if err != nil {
		return "", "", err
	}
	prefix = keyScheme + head
	return prefix + "_" + tail, prefix, nil
}

func randomBase62(n int) (string, error) {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(base62)))
	for i := range out {
		num, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate random key part: %w", err)
		}
		out[i] = base62[num.Int64()]
	}
	return string(out), nil
}

// parsePrefix extracts the public prefix from a presented key, or reports
// false when the key is not shaped like one this service issues.
func parsePrefix(presented string) (string, bool) {
	if len(presented) != keyLength || !strings.HasPrefix(presented, keyScheme) || presented[prefixLength] != '_' {
		return "", false
	}
	for i := len(keyScheme); i < keyLength; i++ {
		if i == prefixLength {
			continue
		}
		if !strings.ContainsRune(base62, rune(presented[i])) {
			return "", false
		}
	}
	return presented[:prefixLength], true
}

// Prefix returns the public prefix of a presented key, for display and rate
// limiting. ok is false when the key is malformed.
func Prefix(presented string) (prefix string, ok bool) {
	return parsePrefix(presented)
}
