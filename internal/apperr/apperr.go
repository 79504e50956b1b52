package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a category of request failure. Codes are stable strings
// that appear in error envelopes and map to fixed HTTP statuses.
type Code string

const (
	CodeInvalidInvite    Code = "invalid_invite"
	CodeUnknownToken     Code = "unknown_token"
	CodeNotParticipant   Code = "not_participant"
	CodeGameNotActive    Code = "game_not_active"
	CodeNotYourTurn      Code = "not_your_turn"
	CodeMalformedMove    Code = "malformed_move"
	CodeIllegalMove      Code = "illegal_move"
	CodeNotFound         Code = "not_found"
	CodeChallengeNotOpen Code = "challenge_not_open"
	CodeChallengeExpired Code = "challenge_expired"
	CodeMethodNotAllowed Code = "method_not_allowed"
	CodeBadRequest       Code = "bad_request"
	CodeUnauthorized     Code = "unauthorized"
	CodeConflict         Code = "conflict"
	CodeInternal         Code = "internal"
)

// Error is a request failure with a stable code and optional extra fields
// that are merged into the response envelope (e.g. current status/turn on
// a 409 so the caller can resynchronize).
type Error struct {
	Code    Code
	Message string
	Meta    map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMeta attaches an extra envelope field and returns the error.
func (e *Error) WithMeta(key string, value interface{}) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]interface{})
	}
	e.Meta[key] = value
	return e
}

// HTTPStatus maps the code to its response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInvite, CodeUnknownToken, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotParticipant:
		return http.StatusForbidden
	case CodeGameNotActive, CodeNotYourTurn, CodeChallengeNotOpen, CodeConflict:
		return http.StatusConflict
	case CodeChallengeExpired:
		return http.StatusGone
	case CodeMalformedMove, CodeIllegalMove, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// From extracts an *Error from err, wrapping unknown errors as internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Code: CodeInternal, Message: "internal error"}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}
