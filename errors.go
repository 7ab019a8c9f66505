package tablesession

import "errors"

var (
	// ErrNotFound is returned by Table implementations when the addressed
	// record does not exist. The Store operations never return it.
	ErrNotFound = errors.New("record not found")

	// ErrBackendUnavailable wraps transport, authentication and other
	// failures of the table service.
	ErrBackendUnavailable = errors.New("session backend unavailable")

	// ErrSerialization is returned when a payload cannot be encoded or a
	// stored record cannot be decoded.
	ErrSerialization = errors.New("session serialization failed")

	// ErrInvalidKey is returned when a session id normalizes to an empty
	// key on a write.
	ErrInvalidKey = errors.New("invalid session id")

	// ErrInvalidTableName is returned by New for table names the backends
	// cannot host.
	ErrInvalidTableName = errors.New("invalid table name")
)
