package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed backend call.
type Kind int

const (
	// KindNetwork: the request never produced a response.
	KindNetwork Kind = iota
	// KindAuth: 401 or 403. The credential is missing, invalid or expired.
	KindAuth
	// KindNotFound: 404.
	KindNotFound
	// KindConflict: any other 4xx. The server rejected the input.
	KindConflict
	// KindServer: 5xx or an undecodable response.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is returned by every Client method that fails.
type Error struct {
	Kind   Kind
	Status int    // HTTP status, 0 for network failures
	Route  string // route template, e.g. "/api/reports/{id}"
	Detail string // server-supplied detail, only when it was a string
	Err    error  // underlying transport or decode error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Route, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s status %d: %s", e.Route, e.Status, e.Detail)
	default:
		return fmt.Sprintf("%s status %d", e.Route, e.Status)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the server's detail when present, otherwise fallback.
func (e *Error) Message(fallback string) string {
	if e.Detail != "" {
		return e.Detail
	}
	return fallback
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindConflict
	default:
		return KindServer
	}
}

// KindOf returns the kind of err, or KindServer for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAuth
}

// IsUnauthorized reports whether err is a 401 specifically.
func IsUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusUnauthorized
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNetwork
}

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

// UserMessage renders err for display, using the server detail when it
// has one and a message for the error kind otherwise.
func UserMessage(err error, fallback string) string {
	var e *Error
	if !errors.As(err, &e) {
		return fallback
	}
	switch e.Kind {
	case KindNetwork:
		return "Connection error"
	case KindAuth:
		return e.Message("Not authorized")
	case KindNotFound:
		return e.Message("Not found")
	default:
		return e.Message(fallback)
	}
}
