package logger

import "strings"

// RedactEmail keeps enough of an address to correlate log lines without
// exposing the local part: "john.doe@example.com" becomes
// "jo***@example.com". Local parts of two characters or fewer are
// masked entirely, and anything that is not an address at all comes
// back as "***@***".
func RedactEmail(addr string) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || domain == "" {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
