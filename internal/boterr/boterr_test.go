package boterr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrappingPreservesSentinels(t *testing.T) {
	err := NewConnectionError("join failed", ErrConnectTimeout)
	wrapped := fmt.Errorf("enqueue: %w", err)

	if !errors.Is(wrapped, ErrConnectTimeout) {
		t.Error("sentinel lost through wrapping")
	}
	if TypeOf(wrapped) != TypeConnection {
		t.Errorf("TypeOf = %s", TypeOf(wrapped))
	}
	if !strings.Contains(err.Error(), "[CONNECTION]") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestTypeOfPlainError(t *testing.T) {
	if TypeOf(errors.New("x")) != TypeInternal {
		t.Error("plain errors should classify as internal")
	}
}

func TestIsUserError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NewInvalidPositionError(5, 2), true},
		{NewNothingPlayingError(), true},
		{NewValidationError("bad", nil), true},
		{NewResolutionError("bad url", ErrUnsupportedURL), false},
		{NewConnectionError("no", ErrConnectRejected), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsUserError(tt.err); got != tt.want {
			t.Errorf("IsUserError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestInvalidPositionMessages(t *testing.T) {
	if !errors.Is(NewInvalidPositionError(3, 2), ErrInvalidPosition) {
		t.Error("expected ErrInvalidPosition")
	}
	if got := UserMessage(NewInvalidPositionError(1, 0)); got != "The queue is empty." {
		t.Errorf("empty queue message = %q", got)
	}
	if got := UserMessage(NewInvalidPositionError(9, 4)); !strings.Contains(got, "between 1 and 4") {
		t.Errorf("range message = %q", got)
	}
}

func TestUserMessageFallback(t *testing.T) {
	if got := UserMessage(errors.New("internal detail")); strings.Contains(got, "internal detail") {
		t.Errorf("internal detail leaked: %q", got)
	}
	if got := UserMessage(NewLyricsUnavailableError("none", nil)); got == "" {
		t.Error("lyrics error should fall back to a generic message")
	}
}

func TestWithContextOnZeroValue(t *testing.T) {
	e := &BotError{Type: TypeInternal}
	e.WithContext("k", 1)
	if e.Context["k"] != 1 {
		t.Error("context not set")
	}
}
