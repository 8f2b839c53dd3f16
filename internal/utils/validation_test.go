package utils

import (
	"errors"
	"testing"

	"bananaclash/internal/models"
)

func TestNormalizeRoomCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		want    string
		wantErr bool
	}{
		{name: "valid code", code: "ABC123", want: "ABC123"},
		{name: "lower case", code: "abc123", want: "ABC123"},
		{name: "surrounding spaces", code: "  xyz789 ", want: "XYZ789"},
		{name: "too short", code: "ABC12", wantErr: true},
		{name: "too long", code: "ABC1234", wantErr: true},
		{name: "punctuation", code: "ABC-12", wantErr: true},
		{name: "empty string", code: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRoomCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeRoomCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeRoomCode(%q) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     string
		wantErr  bool
	}{
		{name: "simple", username: "Alice", want: "Alice"},
		{name: "collapses spaces", username: "  Banana   Fan ", want: "Banana Fan"},
		{name: "unicode letters", username: "Zoë", want: "Zoë"},
		{name: "single character", username: "A", wantErr: true},
		{name: "too long", username: "abcdefghijklmnopqrstuvwxy", wantErr: true},
		{name: "markup", username: "<b>bob</b>", wantErr: true},
		{name: "empty string", username: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeUsername(%q) error = %v, wantErr %v", tt.username, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.username, got, tt.want)
			}
		})
	}
}

func TestValidateGuess(t *testing.T) {
	if err := ValidateGuess(0); err != nil {
		t.Errorf("ValidateGuess(0) error = %v", err)
	}
	err := ValidateGuess(-1)
	if err == nil {
		t.Fatal("ValidateGuess(-1) expected an error")
	}
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("ValidateGuess(-1) error %v does not match ErrInvalidInput", err)
	}
}
