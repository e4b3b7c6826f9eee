package watcher

import (
	"errors"
	"strings"
)

// Error codes shared by the tree, the wire codec and the forwarding layer.
const (
	CodeNotFound                = "NOT_FOUND"
	CodeTypeMismatch            = "TYPE_MISMATCH"
	CodeUnwritable              = "UNWRITABLE"
	CodeDecodeError             = "DECODE_ERROR"
	CodeTargetResolutionFailure = "TARGET_RESOLUTION_FAILURE"
	CodePeerUnreachable         = "PEER_UNREACHABLE"
	CodeRemote                  = "REMOTE"
	CodeRateLimited             = "RATE_LIMITED"
	CodeInternal                = "INTERNAL_ERROR"
)

var knownCodes = map[string]bool{
	CodeNotFound: true, CodeTypeMismatch: true, CodeUnwritable: true, CodeDecodeError: true,
	CodeTargetResolutionFailure: true, CodePeerUnreachable: true, CodeRemote: true,
	CodeRateLimited: true, CodeInternal: true,
}

// Error is a structured watcher error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound) works for
// every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrNotFound                = NewError(CodeNotFound, "path not found")
	ErrTypeMismatch            = NewError(CodeTypeMismatch, "value type mismatch")
	ErrUnwritable              = NewError(CodeUnwritable, "node is not writable")
	ErrDecode                  = NewError(CodeDecodeError, "malformed frame")
	ErrTargetResolutionFailure = NewError(CodeTargetResolutionFailure, "selector names no live peer")
	ErrPeerUnreachable         = NewError(CodePeerUnreachable, "peer did not answer")
	ErrRemote                  = NewError(CodeRemote, "path is served by remote peers")
)

// CodeOf returns the code of a watcher error, or "" for any other error.
func CodeOf(err error) string {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// AsError returns err as an *Error, wrapping foreign errors as INTERNAL_ERROR.
func AsError(err error) *Error {
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	return NewError(CodeInternal, err.Error())
}

// ParseError recovers an *Error from the text produced by its Error method. Only known
// codes are accepted.
func ParseError(s string) (*Error, bool) {
	code, message, ok := strings.Cut(s, ": ")
	if !ok || !knownCodes[code] {
		return nil, false
	}
	return NewError(code, message), true
}

func notFound(path string) *Error {
	return NewError(CodeNotFound, "no watcher at "+quotePath(path))
}

func typeMismatch(message string) *Error {
	return NewError(CodeTypeMismatch, message)
}

func unwritable(path string, mode Mode) *Error {
	return NewError(CodeUnwritable, quotePath(path)+" is "+mode.String())
}

func quotePath(path string) string {
	if path == "" {
		return `"/"`
	}
	return `"` + path + `"`
}
