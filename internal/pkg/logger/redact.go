package logger

import "strings"

// RedactEmail masks an email's local part for safe logging, keeping the
// first two characters and the domain: "john.doe@example.com" becomes
// "jo***@example.com". Local parts of two characters or fewer are masked
// entirely.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// RedactPhone masks a phone number for safe logging, keeping the last
// four digits: "+15551234567" → "*******4567".
func RedactPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
