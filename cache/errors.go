package cache

import "errors"

// ErrorCode classifies failures inside the cache subsystem.
type ErrorCode string

const (
	// CodeKeyError means a query could not be fingerprinted. Callers bypass
	// the cache for that call.
	CodeKeyError ErrorCode = "CACHE_KEY_ERROR"
	// CodeRemoteUnavailable means a remote tier call failed, timed out or was
	// rejected by the circuit breaker. Always recovered locally.
	CodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	// CodeInvalidationEval means the matcher could not evaluate one
	// registered query. The entry is invalidated.
	CodeInvalidationEval ErrorCode = "INVALIDATION_EVAL_ERROR"
	// CodeConfig marks a construction-time configuration error.
	CodeConfig ErrorCode = "CONFIG_ERROR"
)

var (
	ErrKey               = &Error{Code: CodeKeyError}
	ErrRemoteUnavailable = &Error{Code: CodeRemoteUnavailable}
	ErrInvalidationEval  = &Error{Code: CodeInvalidationEval}
)

// Error is a coded cache error. errors.Is matches on Code, so
// errors.Is(err, cache.ErrRemoteUnavailable) works for any wrapped remote failure.
type Error struct {
	Code ErrorCode
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Key != "" {
		msg += " key=" + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Is lets errors.Is(err, &Error{Code: CodeConfig}) match configuration errors.
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == CodeConfig
}

// IsCode reports whether err carries the given cache error code.
func IsCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}
