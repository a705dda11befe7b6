package config

import (
	"os"
	"strings"
)

// AutoResolveEnabled gates the bulk auto-resolve path globally.
// Low/medium severity conflicts are only auto-resolved when this is on;
// a human decision is always required for high/critical regardless.
//
// Set via env:
// - CONFLICT_AUTO_RESOLVE_ENABLED=true
func AutoResolveEnabled() bool {
	return boolFromEnv("CONFLICT_AUTO_RESOLVE_ENABLED")
}

// StrictResolutionAudit makes a failed resolution-event write abort the
// resolution transaction instead of logging and continuing.
//
// Set via env:
// - STRICT_RESOLUTION_AUDIT=true
func StrictResolutionAudit() bool {
	return boolFromEnv("STRICT_RESOLUTION_AUDIT")
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
