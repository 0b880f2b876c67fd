package build

import (
	"regexp"
)

// sanitizePatterns is the list of credential shapes scrubbed from error
// messages before they are persisted. Every message passes through this
// exact list at the single point it is written to a build row.
var sanitizePatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	// Credentials embedded in a GitHub remote URL, as produced by a
	// failed clone over HTTPS: https://<oauth-token>@github.com/...
	{regexp.MustCompile(`//[^/@\s]+@github`), `//[token_redacted]@github`},
	// Bearer tokens quoted back by HTTP clients.
	{regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/-]+=*`), `Bearer [token_redacted]`},
}

// SanitizeError scrubs credentials from an error message.
func SanitizeError(message string) string {
	for _, p := range sanitizePatterns {
		message = p.re.ReplaceAllString(message, p.replacement)
	}
	return message
}
