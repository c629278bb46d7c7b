// Package apperr defines the error variants the HTTP boundary knows how to
// render. Every domain failure is converted into an *Error exactly once and
// the boundary maps its Kind to a status code through a single table.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDuplicateEmail
	KindInvalidCredentials
	KindInvalidToken
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindNotificationFailure
	KindRateLimited
)

type kindInfo struct {
	status  int
	code    string
	message string
}

var kinds = map[Kind]kindInfo{
	KindInternal:            {http.StatusInternalServerError, "internal_error", "Something went wrong"},
	KindValidation:          {http.StatusBadRequest, "validation_failed", "Validation failed"},
	KindDuplicateEmail:      {http.StatusBadRequest, "email_taken", "User already exists with this email"},
	KindInvalidCredentials:  {http.StatusUnauthorized, "invalid_credentials", "Invalid email or password"},
	KindInvalidToken:        {http.StatusBadRequest, "invalid_token", "Invalid or expired reset token"},
	KindUnauthenticated:     {http.StatusUnauthorized, "unauthorized", "Authentication failed"},
	KindForbidden:           {http.StatusForbidden, "forbidden", "Insufficient permissions"},
	KindNotFound:            {http.StatusNotFound, "not_found", "Resource not found"},
	KindNotificationFailure: {http.StatusInternalServerError, "notification_failed", "Failed to send email"},
	KindRateLimited:         {http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly."},
}

func (k Kind) Status() int {
	return k.info().status
}

func (k Kind) Code() string {
	return k.info().code
}

func (k Kind) DefaultMessage() string {
	return k.info().message
}

func (k Kind) info() kindInfo {
	info, ok := kinds[k]
	if !ok {
		return kinds[KindInternal]
	}
	return info
}

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

type Error struct {
	Kind    Kind
	Message string
	Details interface{}
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.DefaultMessage()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// PublicMessage is what the client sees. Internal errors never expose their
// message.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal || e.Message == "" {
		return e.Kind.DefaultMessage()
	}
	return e.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}

func Validation(message string, details interface{}) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// From returns err as an *Error, treating anything unrecognised as internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

func KindOf(err error) Kind {
	return From(err).Kind
}
