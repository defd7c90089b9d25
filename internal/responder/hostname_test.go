package responder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHostname(t *testing.T) {
	cases := map[string]string{
		"My-MacBook.Pro": "my-macbook-pro",
		"host_01":        "host-01",
		"--weird--":      "weird",
		"___":            "",
		"plain":          "plain",
		"UPPER CASE BOX": "upper-case-box",
		"a!!b##c":        "a-b-c",
	}
	for input, want := range cases {
		assert.Equal(t, want, sanitizeHostname(input), "input %q", input)
	}
}

func TestLocalHostname_SuffixedAndStable(t *testing.T) {
	first := LocalHostname()
	assert.True(t, strings.HasSuffix(first, ".local"))
	assert.NotEqual(t, ".local", first, "empty sanitization falls back to a random name")
	assert.Equal(t, first, LocalHostname(), "hostname is derived once per process")
}

func TestRandomAlphanumeric(t *testing.T) {
	s := randomAlphanumeric(8)
	assert.Len(t, s, 8)
	for _, r := range s {
		assert.Contains(t, alphanumeric, string(r))
	}
}
