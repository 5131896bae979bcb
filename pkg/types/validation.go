package types

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxClientIDLength bounds user-supplied client ids (in runes)
const MaxClientIDLength = 64

// ParseRole converts the login userType literal into a Role
func ParseRole(userType string) (Role, error) {
	switch Role(userType) {
	case RoleCounselor:
		return RoleCounselor, nil
	case RoleClient:
		return RoleClient, nil
	default:
		return "", ErrInvalidRole
	}
}

// IsValidClientID checks a user-supplied client id.
// Any printable text is accepted so ids are not restricted to ASCII.
func IsValidClientID(clientID string) bool {
	if clientID == "" || !utf8.ValidString(clientID) {
		return false
	}
	if utf8.RuneCountInString(clientID) > MaxClientIDLength {
		return false
	}
	for _, r := range clientID {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ValidateBody checks an outgoing chat message body against maxLen runes
func ValidateBody(body string, maxLen int) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	if !utf8.ValidString(body) {
		return ErrInvalidMessage
	}
	if maxLen > 0 && utf8.RuneCountInString(body) > maxLen {
		return ErrMessageTooLong
	}
	return nil
}
