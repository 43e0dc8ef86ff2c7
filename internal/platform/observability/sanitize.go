package observability

import "unicode"

// Log field values derived from request data are stripped of control
// characters and truncated so a crafted header cannot inject log lines.

func sanitizeString(value string, limit int) string {
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if limit > 0 && len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

func sanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func sanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

func sanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
