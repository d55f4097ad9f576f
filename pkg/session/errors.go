package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session package.
var (
	// ErrNotConnected indicates an action that needs an open connection.
	ErrNotConnected = errors.New("session: not connected")

	// ErrBusy indicates a typed turn was attempted outside Idle.
	ErrBusy = errors.New("session: busy")

	// ErrEmptyText indicates a typed turn with no text.
	ErrEmptyText = errors.New("session: empty text")

	// ErrStopped indicates the session is no longer running.
	ErrStopped = errors.New("session: stopped")
)

// Kind categorizes errors surfaced to the user.
type Kind string

const (
	// KindPermissionDenied means the microphone could not be acquired.
	KindPermissionDenied Kind = "permission_denied"
	// KindServer means the server reported an application error.
	KindServer Kind = "server"
	// KindPlayback means a spoken reply could not be played.
	KindPlayback Kind = "playback"
	// KindCapture means the microphone failed after it was acquired.
	KindCapture Kind = "capture"
)

// Error is an error surfaced to the user through Observer.OnError.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("session: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the Kind of a surfaced error, or "" for other errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
