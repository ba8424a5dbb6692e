package authclient

import "fmt"

// ErrorKind classifies request failures so callers can branch on outcome
// rather than on status codes.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota + 1
	KindServer
	KindInvalidCredentials
	KindInvalidOTP
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindServer:
		return "server error"
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindInvalidOTP:
		return "invalid or expired code"
	}
	return "unknown error"
}

type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *APIError) Unwrap() error { return e.Err }

func kindOf(err error) ErrorKind {
	if aerr, ok := err.(*APIError); ok {
		return aerr.Kind
	}
	return 0
}

func IsInvalidCredentials(err error) bool { return kindOf(err) == KindInvalidCredentials }
func IsInvalidOTP(err error) bool         { return kindOf(err) == KindInvalidOTP }
func IsNetworkError(err error) bool       { return kindOf(err) == KindNetwork }
func IsServerError(err error) bool        { return kindOf(err) == KindServer }
