package world

import (
	"strconv"
	"strings"
)

// collapseWhitespace folds any run of whitespace into a single space and
// trims the ends.
func collapseWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func clampRunes(value string, max int) string {
	runes := []rune(value)
	if len(runes) > max {
		return string(runes[:max])
	}
	return value
}

func SanitizeDisplayName(value string, maxLength int) string {
	return clampRunes(collapseWhitespace(value), maxLength)
}

func SanitizeRoomName(value string, maxLength int) string {
	return clampRunes(collapseWhitespace(value), maxLength)
}

// SanitizeRoomRoles normalizes role labels: whitespace collapsed, clamped to
// nameMaxLength, deduplicated case-insensitively, at most roleMax entries.
func SanitizeRoomRoles(values []string, roleMax, nameMaxLength int) []string {
	sanitized := []string{}
	seen := make(map[string]struct{})
	for _, entry := range values {
		normalized := clampRunes(collapseWhitespace(entry), nameMaxLength)
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sanitized = append(sanitized, normalized)
		if len(sanitized) >= roleMax {
			break
		}
	}
	return sanitized
}

// ResolveDisplayName picks the name shown for a client: the sanitized
// display name when present, otherwise a short handle derived from the
// session id, otherwise one derived from the numeric client id.
func ResolveDisplayName(displayName, sessionID string, id int64) string {
	if trimmed := strings.TrimSpace(displayName); trimmed != "" {
		return trimmed
	}
	if sessionID != "" {
		return "U-" + shortHandle(sessionID)
	}
	return "U-" + shortHandle(strconv.FormatInt(id, 10))
}

func shortHandle(value string) string {
	var b strings.Builder
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return "unknown"
	}
	if len(cleaned) <= 6 {
		return cleaned
	}
	return cleaned[len(cleaned)-6:]
}
