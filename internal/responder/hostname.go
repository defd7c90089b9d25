package responder

import (
	"math/rand"
	"os"
	"strings"
	"sync"
)

// localHostnameOnce yields the process-wide ".local" hostname, derived once.
// Re-initialization is not supported.
var localHostnameOnce = sync.OnceValue(computeLocalHostname)

// LocalHostname returns the node's advertised hostname, e.g. "my-host.local".
func LocalHostname() string {
	return localHostnameOnce()
}

func computeLocalHostname() string {
	raw, err := os.Hostname()
	if err != nil {
		raw = ""
	}
	sanitized := sanitizeHostname(raw)
	if sanitized == "" {
		sanitized = randomAlphanumeric(8)
	}
	return sanitized + ".local"
}

// sanitizeHostname lowercases raw, collapses runs of non-alphanumeric
// characters to a single hyphen, and trims leading/trailing hyphens.
func sanitizeHostname(raw string) string {
	lower := strings.ToLower(raw)

	var b strings.Builder
	prevWasHyphen := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevWasHyphen = false
			continue
		}
		if !prevWasHyphen {
			b.WriteByte('-')
			prevWasHyphen = true
		}
	}

	return strings.Trim(b.String(), "-")
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomAlphanumeric(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rand.Intn(len(alphanumeric))]
	}
	return string(b)
}
