// Package clienterr defines the error taxonomy returned by the search client.
package clienterr

import (
	"errors"
	"fmt"
)

// Kind classifies a client error.
type Kind string

const (
	KindConnection       Kind = "connection"
	KindAuth             Kind = "auth"
	KindSession          Kind = "session"
	KindSearch           Kind = "search"
	KindUpload           Kind = "upload"
	KindNotAuthenticated Kind = "not_authenticated"
)

// Sentinels for errors.Is; every *Error matches the sentinel of its Kind.
var (
	ErrConnection       = errors.New("connection error")
	ErrAuth             = errors.New("auth error")
	ErrSession          = errors.New("session error")
	ErrSearch           = errors.New("search error")
	ErrUpload           = errors.New("upload error")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Error is a client-side failure. Message is shown to the user verbatim.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error's Kind.
func (e *Error) Is(target error) bool {
	return sentinel(e.Kind) == target
}

func sentinel(kind Kind) error {
	switch kind {
	case KindConnection:
		return ErrConnection
	case KindAuth:
		return ErrAuth
	case KindSession:
		return ErrSession
	case KindSearch:
		return ErrSearch
	case KindUpload:
		return ErrUpload
	case KindNotAuthenticated:
		return ErrNotAuthenticated
	default:
		return nil
	}
}

// NewConnection reports that no response reached the client.
func NewConnection(err error) *Error {
	return &Error{
		Kind:    KindConnection,
		Message: fmt.Sprintf("unable to reach server: %v", err),
		Err:     err,
	}
}

// NotAuthenticated is returned before any network call when no token is held.
func NotAuthenticated() *Error {
	return &Error{Kind: KindNotAuthenticated, Message: "not authenticated: please log in first"}
}

// Wrap builds an error of kind around a cause. When the cause already carries
// a user-facing message and msg is empty, that message is reused.
func Wrap(kind Kind, msg string, err error) *Error {
	out := &Error{Kind: kind, Message: msg, Err: err}
	var ce *Error
	if errors.As(err, &ce) {
		out.Status = ce.Status
		if out.Message == "" {
			out.Message = ce.Message
		}
	}
	return out
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Status
	}
	return 0
}
