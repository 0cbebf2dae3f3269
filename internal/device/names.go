package device

import "strings"

// namePlaceholder is the sentinel adapters report while a real name is
// still unresolved. Matched case-insensitively.
const namePlaceholder = "unknown"

// MeaningfulName reports whether a candidate display name carries real
// information: non-empty after trimming and not the placeholder sentinel.
func MeaningfulName(candidate string) bool {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return false
	}
	return !strings.EqualFold(trimmed, namePlaceholder)
}

// ResolveName decides whether a candidate name should replace the stored
// name for an identity.
//
// Discovery adapters frequently report transient empty names or a generic
// placeholder before resolving a real one. A meaningful candidate (trimmed,
// non-empty, not "unknown") always wins; otherwise the existing name is
// kept, which may itself be nil. A stored name therefore never regresses
// from a known good value to a placeholder.
func ResolveName(candidate string, existing *string) *string {
	trimmed := strings.TrimSpace(candidate)
	if !MeaningfulName(trimmed) {
		return existing
	}
	return &trimmed
}
