package vitals

import (
	"errors"
	"fmt"
)

// Error codes carried by *Error.
const (
	InvalidTargetError = iota

	UnsupportedTransportError

	ConnectionError

	ConnectionRefusedError

	DisconnectedError

	ProtocolError

	TimedOutError

	ListenerPanicError

	ServerError

	RetriesExhaustedError

	UnknownError
)

// Sentinels for errors.Is checks against any *Error of the same code.
var (
	ErrInvalidTarget        = &Error{Code: InvalidTargetError}
	ErrUnsupportedTransport = &Error{Code: UnsupportedTransportError}
	ErrConnection           = &Error{Code: ConnectionError}
	ErrConnectionRefused    = &Error{Code: ConnectionRefusedError}
	ErrDisconnected         = &Error{Code: DisconnectedError}
	ErrProtocol             = &Error{Code: ProtocolError}
	ErrTimedOut             = &Error{Code: TimedOutError}
	ErrListenerPanic        = &Error{Code: ListenerPanicError}
	ErrServer               = &Error{Code: ServerError}
	ErrRetriesExhausted     = &Error{Code: RetriesExhaustedError}
)

// Error is a coded realtime error. Detail is free text; Err is the wrapped cause.
type Error struct {
	Code   int
	Detail string
	Err    error
}

func errorName(code int) string {
	switch code {
	case InvalidTargetError:
		return "InvalidTargetError"
	case UnsupportedTransportError:
		return "UnsupportedTransportError"
	case ConnectionError:
		return "ConnectionError"
	case ConnectionRefusedError:
		return "ConnectionRefusedError"
	case DisconnectedError:
		return "DisconnectedError"
	case ProtocolError:
		return "ProtocolError"
	case TimedOutError:
		return "TimedOutError"
	case ListenerPanicError:
		return "ListenerPanicError"
	case ServerError:
		return "ServerError"
	case RetriesExhaustedError:
		return "RetriesExhaustedError"
	default:
		return "UnknownError"
	}
}

func (err *Error) Error() string {
	name := errorName(err.Code)
	switch {
	case err.Detail != "" && err.Err != nil:
		return fmt.Sprintf("%s: %s: %v", name, err.Detail, err.Err)
	case err.Detail != "":
		return name + ": " + err.Detail
	case err.Err != nil:
		return fmt.Sprintf("%s: %v", name, err.Err)
	default:
		return name
	}
}

func (err *Error) Unwrap() error { return err.Err }

// Is matches any *Error with the same code.
func (err *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == err.Code
}

// NewError builds a coded error. A detail that is an error becomes the wrapped cause;
// anything else is formatted into Detail.
func NewError(errorCode int, detail ...interface{}) error {
	err := &Error{Code: errorCode}
	if len(detail) == 0 {
		return err
	}
	if cause, ok := detail[0].(error); ok {
		err.Err = cause
		return err
	}
	err.Detail = fmt.Sprint(detail[0])
	return err
}

// ErrorCode returns the code of the first *Error in err's chain, or UnknownError.
func ErrorCode(err error) int {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return UnknownError
}
