package frontier

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Canonicalize lowercases scheme and host, drops the default port for
// the scheme, and removes any fragment. Path and query are left
// intact; canonicalization is idempotent: Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	return u.String(), nil
}

// hashCanonical returns a stable 128-bit digest of a canonical URL,
// used as the seen-set key.
func hashCanonical(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}
