package rtm

import (
	"errors"
	"fmt"
)

const (
	AlreadyConnectedError = iota

	AuthenticationError

	ConnectionError

	DisconnectedError

	DuplicateSubscriptionError

	InvalidURIError

	NotConnectedError

	ProtocolError

	PublishError

	SubscriptionNotFoundError

	TimedOutError

	UnknownError
)

// Error is the typed error returned by client operations.
type Error struct {
	Code    int
	Name    string
	Message string
	cause   error
}

func (err *Error) Error() string {
	if err.Message == "" {
		return err.Name
	}
	return err.Name + ": " + err.Message
}

// Unwrap returns the wrapped cause, if any.
func (err *Error) Unwrap() error { return err.cause }

func errorName(errorCode int) string {
	switch errorCode {
	case AlreadyConnectedError:
		return "AlreadyConnectedError"
	case AuthenticationError:
		return "AuthenticationError"
	case ConnectionError:
		return "ConnectionError"
	case DisconnectedError:
		return "DisconnectedError"
	case DuplicateSubscriptionError:
		return "DuplicateSubscriptionError"
	case InvalidURIError:
		return "InvalidURIError"
	case NotConnectedError:
		return "NotConnectedError"
	case ProtocolError:
		return "ProtocolError"
	case PublishError:
		return "PublishError"
	case SubscriptionNotFoundError:
		return "SubscriptionNotFoundError"
	case TimedOutError:
		return "TimedOutError"
	default:
		return "UnknownError"
	}
}

// NewError builds an *Error for errorCode. An optional first message
// argument is appended to the name; an error argument is also kept as the
// unwrap cause.
func NewError(errorCode int, message ...interface{}) error {
	result := &Error{Code: errorCode, Name: errorName(errorCode)}
	if result.Name == "UnknownError" {
		result.Code = UnknownError
	}
	if len(message) > 0 {
		result.Message = fmt.Sprint(message[0])
		if cause, ok := message[0].(error); ok {
			result.cause = cause
		}
	}
	return result
}

// IsErrorCode reports whether err, or any error it wraps, is an *Error with
// the given code.
func IsErrorCode(err error, errorCode int) bool {
	var rtmErr *Error
	if !errors.As(err, &rtmErr) {
		return false
	}
	return rtmErr.Code == errorCode
}
