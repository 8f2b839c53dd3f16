package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"bananaclash/internal/models"
)

const (
	minUsernameRunes = 2
	maxUsernameRunes = 24
)

var (
	roomCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	usernameRegex = regexp.MustCompile(`^[\p{L}\p{N} _.\-]+$`)
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match validation failures with errors.Is
func (e ValidationError) Unwrap() error {
	return models.ErrInvalidInput
}

// NormalizeRoomCode trims and upper-cases a room code and checks its shape
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ValidationError{Field: "code", Message: "room code is required"}
	}
	if !roomCodeRegex.MatchString(code) {
		return "", ValidationError{Field: "code", Message: "room code must be 6 letters or digits"}
	}
	return code, nil
}

// NormalizeUsername trims a display name and checks its length and characters
func NormalizeUsername(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", ValidationError{Field: "username", Message: "username is required"}
	}
	n := utf8.RuneCountInString(name)
	if n < minUsernameRunes {
		return "", ValidationError{Field: "username", Message: fmt.Sprintf("username must be at least %d characters", minUsernameRunes)}
	}
	if n > maxUsernameRunes {
		return "", ValidationError{Field: "username", Message: fmt.Sprintf("username must be at most %d characters", maxUsernameRunes)}
	}
	if !usernameRegex.MatchString(name) {
		return "", ValidationError{Field: "username", Message: "username contains invalid characters"}
	}
	return name, nil
}

// ValidateGuess checks a banana count
func ValidateGuess(guess int) error {
	if guess < 0 {
		return ValidationError{Field: "guess", Message: "guess must not be negative"}
	}
	return nil
}
