package privacy

import (
	"strings"

	"waingest/internal/constants"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) <= constants.DefaultPhoneMaskLength+1 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-constants.DefaultPhoneMaskLength-1) + phone[len(phone)-constants.DefaultPhoneMaskLength:]
	}

	return maskString(phone, constants.DefaultPhoneMaskLength)
}

// MaskConversationID masks the phone components of a conversation key
// while keeping its structure readable.
// Example: "106540122_7575:15550001234" -> "106540122_7575:*******1234"
// Example: "120363041234567890@g.us" -> "**************7890@g.us"
func MaskConversationID(id string) string {
	if id == "" {
		return ""
	}

	if at := strings.Index(id, "@"); at >= 0 {
		return maskString(id[:at], constants.DefaultPhoneMaskLength) + id[at:]
	}

	if colon := strings.Index(id, ":"); colon >= 0 {
		return id[:colon+1] + MaskPhoneNumber(id[colon+1:])
	}

	return maskString(id, constants.DefaultPhoneMaskLength)
}

// MaskMessageID masks a platform message id, keeping the tail for log
// correlation. wamid values embed the sender phone, so the bulk is hidden.
func MaskMessageID(messageID string) string {
	return maskString(messageID, 8)
}

// FingerprintPrefix returns the loggable prefix of a request fingerprint.
// Fingerprints are hashes, not secrets, but full values blow up log lines.
func FingerprintPrefix(fingerprint string) string {
	if len(fingerprint) <= constants.FingerprintLogChars {
		return fingerprint
	}
	return fingerprint[:constants.FingerprintLogChars]
}

func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
