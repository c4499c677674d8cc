// Package boterr defines the error taxonomy shared by the playback services.
package boterr

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures by how callers must react to them.
type ErrorType string

const (
	// TypeResolution covers bad or unsupported URLs and metadata/download failures.
	// The offending song is skipped; the queue continues.
	TypeResolution ErrorType = "RESOLUTION"
	// TypeConnection means the voice channel could not be joined or kept.
	TypeConnection ErrorType = "CONNECTION"
	// TypePlayback is a mid-song voice failure, treated as "song finished".
	TypePlayback        ErrorType = "PLAYBACK"
	TypeInvalidPosition ErrorType = "INVALID_POSITION"
	TypeNothingPlaying  ErrorType = "NOTHING_PLAYING"
	// TypeLyricsUnavailable is never fatal.
	TypeLyricsUnavailable ErrorType = "LYRICS_UNAVAILABLE"
	TypeValidation        ErrorType = "VALIDATION"
	TypeInternal          ErrorType = "INTERNAL"
)

var (
	ErrInvalidPosition   = errors.New("invalid queue position")
	ErrNothingPlaying    = errors.New("nothing is playing")
	ErrConnectTimeout    = errors.New("voice connect timed out")
	ErrConnectRejected   = errors.New("voice connect rejected")
	ErrNotConnected      = errors.New("voice not connected")
	ErrLyricsUnavailable = errors.New("lyrics unavailable")
	ErrUnsupportedURL    = errors.New("unsupported url")
	ErrQueueFull         = errors.New("queue is full")
)

// BotError represents a structured error with context
type BotError struct {
	Type        ErrorType
	Message     string
	UserMessage string
	Cause       error
	Context     map[string]interface{}
}

func (e *BotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *BotError) Unwrap() error {
	return e.Cause
}

// WithContext adds a key to the error's context and returns the error.
func (e *BotError) WithContext(key string, value interface{}) *BotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(errorType ErrorType, message, userMessage string, cause error) *BotError {
	return &BotError{
		Type:        errorType,
		Message:     message,
		UserMessage: userMessage,
		Cause:       cause,
		Context:     make(map[string]interface{}),
	}
}

func NewResolutionError(message string, cause error) *BotError {
	return New(TypeResolution, message, "Couldn't load that song. Check the link and try again.", cause)
}

func NewConnectionError(message string, cause error) *BotError {
	return New(TypeConnection, message, "I couldn't join your voice channel. Check my permissions and try again.", cause)
}

func NewPlaybackError(message string, cause error) *BotError {
	return New(TypePlayback, message, "Playback failed, moving on to the next song.", cause)
}

func NewInvalidPositionError(position, length int) *BotError {
	msg := fmt.Sprintf("position %d is out of range (queue has %d songs)", position, length)
	if length == 0 {
		return New(TypeInvalidPosition, msg, "The queue is empty.", ErrInvalidPosition).
			WithContext("position", position)
	}
	return New(TypeInvalidPosition, msg,
		fmt.Sprintf("Invalid position. Choose a number between 1 and %d.", length), ErrInvalidPosition).
		WithContext("position", position)
}

func NewNothingPlayingError() *BotError {
	return New(TypeNothingPlaying, "no current song", "Nothing is playing right now.", ErrNothingPlaying)
}

func NewLyricsUnavailableError(message string, cause error) *BotError {
	if cause == nil {
		cause = ErrLyricsUnavailable
	}
	return New(TypeLyricsUnavailable, message, "", cause)
}

func NewValidationError(message string, cause error) *BotError {
	return New(TypeValidation, message, message, cause)
}

func NewInternalError(message string, cause error) *BotError {
	return New(TypeInternal, message, "An unexpected error occurred. Please try again.", cause)
}

// TypeOf returns the type of the outermost BotError in err's chain, or
// TypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var be *BotError
	if errors.As(err, &be) {
		return be.Type
	}
	return TypeInternal
}

// IsUserError reports errors caused by user input. These are returned to the
// caller but not logged as failures.
func IsUserError(err error) bool {
	switch TypeOf(err) {
	case TypeInvalidPosition, TypeNothingPlaying, TypeValidation:
		return true
	}
	return false
}

// UserMessage returns a one-line message safe to show in chat.
func UserMessage(err error) string {
	var be *BotError
	if errors.As(err, &be) && be.UserMessage != "" {
		return be.UserMessage
	}
	return "An unexpected error occurred. Please try again."
}
