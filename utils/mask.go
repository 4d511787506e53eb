package utils

import "strings"

// MaskAddress hides most of an email address for logs: "john@example.com" -> "j**n@e*****e.c*m".
func MaskAddress(s string) string {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return maskPart(s)
	}

	domain := strings.Split(s[at+1:], ".")
	for i, p := range domain {
		domain[i] = maskPart(p)
	}
	return maskPart(s[:at]) + "@" + strings.Join(domain, ".")
}

func maskPart(part string) string {
	if len(part) <= 2 {
		return strings.Repeat("*", max(1, len(part)))
	}
	return part[:1] + strings.Repeat("*", len(part)-2) + part[len(part)-1:]
}
