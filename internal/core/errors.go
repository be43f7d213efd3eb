package core

import (
	"errors"
)

// Error codes for domain errors.
const (
	ErrCodeInvalidParticipant = "invalid_participant"
	ErrCodeNotAuthenticated   = "not_authenticated"
	ErrCodeEmptyBody          = "empty_body"
	ErrCodeUnreachable        = "unreachable"
	ErrCodeNotMember          = "not_member"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnknownSub         = "unknown_subscription"
	ErrCodeInternal           = "internal"
)

var (
	ErrInvalidParticipant = errors.New("invalid participant")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrEmptyBody          = errors.New("message body is empty")
	ErrUnreachable        = errors.New("store unreachable")
	ErrNotMember          = errors.New("not a member of this chatroom")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// AsCoreError maps err onto the code the transport reports to clients.
func AsCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrInvalidParticipant):
		return coreError(ErrCodeInvalidParticipant, err.Error())
	case errors.Is(err, ErrNotAuthenticated):
		return coreError(ErrCodeNotAuthenticated, err.Error())
	case errors.Is(err, ErrEmptyBody):
		return coreError(ErrCodeEmptyBody, err.Error())
	case errors.Is(err, ErrNotMember):
		return coreError(ErrCodeNotMember, err.Error())
	case errors.Is(err, ErrUnreachable):
		return coreError(ErrCodeUnreachable, err.Error())
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}

// BadRequest builds a CoreError for malformed client input.
func BadRequest(msg string) *CoreError {
	return coreError(ErrCodeBadRequest, msg)
}

// UnknownSubscription builds a CoreError for a close of an id the client never opened.
func UnknownSubscription(id string) *CoreError {
	return coreError(ErrCodeUnknownSub, "unknown subscription "+id)
}
