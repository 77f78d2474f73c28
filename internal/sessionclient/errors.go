package sessionclient

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindInvalidCredentials means the server rejected the email or password.
	KindInvalidCredentials Kind = iota + 1
	// KindForbidden means the account or the request is not permitted.
	KindForbidden
	// KindServerError covers 5xx, rate limiting and unreadable responses.
	KindServerError
	// KindNetworkError covers transport failures and timeouts.
	KindNetworkError
	// KindSessionExpired means a session this client held is no longer valid.
	KindSessionExpired
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindForbidden:
		return "forbidden"
	case KindServerError:
		return "server error"
	case KindNetworkError:
		return "network error"
	case KindSessionExpired:
		return "session expired"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrServerError        = errors.New("server error")
	ErrNetworkError       = errors.New("network error")
	ErrSessionExpired     = errors.New("session expired")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidCredentials:
		return ErrInvalidCredentials
	case KindForbidden:
		return ErrForbidden
	case KindServerError:
		return ErrServerError
	case KindNetworkError:
		return ErrNetworkError
	case KindSessionExpired:
		return ErrSessionExpired
	default:
		return nil
	}
}

// Error is returned by every Client call that fails.
type Error struct {
	Kind   Kind
	Status int   // HTTP status, zero for transport failures
	Err    error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := "session client: " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}
