package util

// MaskToken redacts a credential for logging. Only a short prefix survives,
// enough to correlate log lines without exposing the secret.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****"
}
