package utils

// MaskSensitiveString hides the middle of a credential so it can be echoed
// back in API responses without leaking the full value.
func MaskSensitiveString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
