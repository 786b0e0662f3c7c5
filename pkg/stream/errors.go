package stream

import (
	"errors"
	"fmt"
)

// Code is the machine-readable failure class used by logic and tests.
type Code string

const (
	CodeHealthCheckFailed Code = "HEALTH_CHECK_FAILED"
	CodePipelineLoadFailed Code = "PIPELINE_LOAD_FAILED"
	CodeConnectionFailed   Code = "CONNECTION_FAILED" // handshake-time
	CodeConnectionLost     Code = "CONNECTION_LOST"   // post-connect
	CodeStreamStopped      Code = "STREAM_STOPPED"    // backend-reported
	CodeDataChannelError   Code = "DATA_CHANNEL_ERROR"
	CodeUnknown            Code = "UNKNOWN"
)

// recoverableByDefault is the per-code recovery policy. Call sites may
// override it when constructing an Error.
var recoverableByDefault = map[Code]bool{
	CodeConnectionLost:   true,
	CodeStreamStopped:    true,
	CodeDataChannelError: true,
}

// Error is the typed failure carried through the state machine and
// surfaced to callers.
type Error struct {
	Code        Code
	Message     string
	Recoverable bool
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("stream: %s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the default recoverability for code.
func NewError(code Code, message string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     message,
		Recoverable: recoverableByDefault[code],
		Cause:       cause,
	}
}

// WithRecoverable overrides the default recovery policy for this error.
func (e *Error) WithRecoverable(r bool) *Error {
	e.Recoverable = r
	return e
}

// AsStreamError extracts an *Error from any error, wrapping foreign
// errors as CodeUnknown so the taxonomy is total.
func AsStreamError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return NewError(CodeUnknown, err.Error(), err)
}

// UserText is the presentation-layer face of a failure.
type UserText struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

var userTexts = map[Code]UserText{
	CodeHealthCheckFailed: {
		Title:       "Backend unavailable",
		Description: "The video generation backend did not respond to a health check.",
		Suggestion:  "Make sure the backend is running and reachable, then try again.",
	},
	CodePipelineLoadFailed: {
		Title:       "Pipeline failed to load",
		Description: "The backend could not load the selected generation pipeline.",
		Suggestion:  "Check the backend logs for model or memory errors and retry.",
	},
	CodeConnectionFailed: {
		Title:       "Connection failed",
		Description: "The media session could not be established with the backend.",
		Suggestion:  "Check your network and backend configuration, then reconnect.",
	},
	CodeConnectionLost: {
		Title:       "Connection lost",
		Description: "The media session to the backend was interrupted.",
		Suggestion:  "Reconnecting automatically. If this keeps happening, check your network.",
	},
	CodeStreamStopped: {
		Title:       "Stream stopped",
		Description: "The backend reported that the video stream has stopped.",
		Suggestion:  "Reconnecting automatically. Check the backend if the stream does not resume.",
	},
	CodeDataChannelError: {
		Title:       "Control channel error",
		Description: "The parameter control channel encountered an error.",
		Suggestion:  "Reconnecting automatically.",
	},
}

var genericUserText = UserText{
	Title:       "Something went wrong",
	Description: "An unexpected error occurred in the streaming session.",
	Suggestion:  "Try disconnecting and connecting again.",
}

// UserTextFor maps a code to user-facing text. The mapping is total:
// unknown codes get the generic entry.
func UserTextFor(code Code) UserText {
	if t, ok := userTexts[code]; ok {
		return t
	}
	return genericUserText
}

// UserText returns the user-facing text for this error.
func (e *Error) UserText() UserText {
	return UserTextFor(e.Code)
}
