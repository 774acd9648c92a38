package manager

import (
	"errors"

	"github.com/Keksclan/tiercache/storage"
)

var (
	// ErrNotConfigured is returned by a nil or zero-value Manager.
	ErrNotConfigured = errors.New("tiercache: manager not configured")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tiercache: manager closed")
)

func notSupported(op, key string) error {
	return &storage.Error{Code: storage.NotSupported, Op: op, Key: key, Err: errors.New("no storage backend available")}
}

func unhealthy(op, key string) error {
	return &storage.Error{Code: storage.AdapterError, Op: op, Key: key, Err: errors.New("every storage backend is unhealthy")}
}
