package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"
)

var locritIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateLocritID validates a Locrit ID. Backends use names as IDs, so any
// short token without whitespace or path separators is accepted.
func ValidateLocritID(id string) error {
	if !locritIDPattern.MatchString(id) {
		return errors.New("invalid locrit ID format")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}

// ValidateTopic validates a conversation topic.
func ValidateTopic(topic string) error {
	if len(topic) > 1000 {
		return errors.New("topic exceeds maximum length")
	}
	if !utf8.ValidString(topic) {
		return errors.New("topic must be valid UTF-8")
	}
	return nil
}
