package storage

import (
	"errors"
	"strings"
)

// Code classifies storage failures.
type Code int

const (
	QuotaExceeded Code = iota + 1
	NotFound
	Expired
	InvalidKey
	InvalidValue
	AdapterError
	NotSupported
)

func (c Code) String() string {
	switch c {
	case QuotaExceeded:
		return "QUOTA_EXCEEDED"
	case NotFound:
		return "NOT_FOUND"
	case Expired:
		return "EXPIRED"
	case InvalidKey:
		return "INVALID_KEY"
	case InvalidValue:
		return "INVALID_VALUE"
	case AdapterError:
		return "ADAPTER_ERROR"
	case NotSupported:
		return "NOT_SUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// Error is the typed error returned by adapters and the manager.
type Error struct {
	Code    Code
	Op      string
	Backend string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("storage")
	if e.Backend != "" {
		b.WriteString(" [" + e.Backend + "]")
	}
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	if e.Key != "" {
		b.WriteString(" " + `"` + e.Key + `"`)
	}
	b.WriteString(": " + e.Code.String())
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same Code, so errors.Is(err,
// ErrQuotaExceeded) holds regardless of operation, backend or key.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrQuotaExceeded = &Error{Code: QuotaExceeded}
	ErrNotFound      = &Error{Code: NotFound}
	ErrExpired       = &Error{Code: Expired}
	ErrInvalidKey    = &Error{Code: InvalidKey}
	ErrInvalidValue  = &Error{Code: InvalidValue}
	ErrAdapter       = &Error{Code: AdapterError}
	ErrNotSupported  = &Error{Code: NotSupported}
)

// CodeOf extracts the Code from err, or 0 when err is not a storage error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// AdapterFailure classifies a raw backend error as ADAPTER_ERROR unless it
// already carries a storage code.
func AdapterFailure(backend, op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Code: AdapterError, Op: op, Backend: backend, Key: key, Err: err}
}

// ValidateKey rejects empty and whitespace-only keys.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return &Error{Code: InvalidKey, Op: "validate", Key: key, Err: errors.New("key is empty")}
	}
	return nil
}
