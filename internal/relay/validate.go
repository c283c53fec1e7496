package relay

import (
	"fmt"
	"unicode/utf8"
)

const (
	// MaxContentBytes bounds the plaintext size before encryption.
	MaxContentBytes = 4096
	// MaxContentChars bounds the visible character count.
	MaxContentChars = 2000
)

// ValidateContent checks that a message body meets content requirements
// before it is encrypted and stored.
func ValidateContent(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message content is empty")
	}
	if len(text) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(text) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
