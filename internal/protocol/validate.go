package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame text
	MaxTextChars    = 2000 // max character count

	// MaxFrameBytes bounds a whole frame: the text with worst-case JSON
	// escaping (\u00XX per byte) plus the envelope.
	MaxFrameBytes = 6*MaxMessageBytes + 1024
)

// ErrEmptyText is returned by ValidateText for an empty message.
var ErrEmptyText = errors.New("message text is empty")

// ValidateText checks that chat text is fit to be sent and relayed.
func ValidateText(text string) error {
	if len(text) == 0 {
		return ErrEmptyText
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}
