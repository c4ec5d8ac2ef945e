package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"rpc_host":  {},
	"vault":     {},
	"operator":  {},
	"listen":    {},
}

// IsAllowlisted reports whether key may be logged verbatim.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns the placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField redacts value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// MaskDSN hides the password portion of a database URL or key/value DSN.
func MaskDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if scheme, rest, ok := strings.Cut(trimmed, "://"); ok {
		if creds, host, ok := strings.Cut(rest, "@"); ok {
			user, _, _ := strings.Cut(creds, ":")
			return scheme + "://" + user + ":" + RedactedValue + "@" + host
		}
		return trimmed
	}
	fields := strings.Fields(trimmed)
	for i, field := range fields {
		if key, _, ok := strings.Cut(field, "="); ok && strings.EqualFold(key, "password") {
			fields[i] = key + "=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}
