package stt

import (
	"errors"
	"fmt"
)

// Common errors for STT services.
var (
	// ErrEmptyAudio is returned when Send is called without audio.
	ErrEmptyAudio = errors.New("audio data is empty")

	// ErrStreamClosed is returned when sending on a closed stream.
	ErrStreamClosed = errors.New("recognition stream is closed")
)

// TranscriptionError represents an error reported by, or while talking to,
// a recognition provider.
type TranscriptionError struct {
	// Provider is the STT provider name.
	Provider string

	// Code is the provider-specific error code.
	Code string

	// Message is a human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// NewTranscriptionError creates a new TranscriptionError.
func NewTranscriptionError(provider, code, message string, cause error) *TranscriptionError {
	return &TranscriptionError{
		Provider: provider,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// Error implements the error interface.
func (e *TranscriptionError) Error() string {
	msg := fmt.Sprintf("%s transcription error: %s", e.Provider, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s transcription error [%s]: %s", e.Provider, e.Code, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TranscriptionError) Unwrap() error {
	return e.Cause
}

// Is matches another TranscriptionError with the same provider and code.
func (e *TranscriptionError) Is(target error) bool {
	t, ok := target.(*TranscriptionError)
	if !ok {
		return false
	}
	return e.Provider == t.Provider && e.Code == t.Code
}
