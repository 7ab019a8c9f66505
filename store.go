package tablesession

import "context"

// Store defines the contract session middleware uses to persist session
// state. TableStore is the table-service implementation; any other backend
// (in-process map, file, cache) can satisfy it.
type Store interface {
	// Get retrieves the payload stored for the given session id. It returns
	// the payload, a boolean indicating whether a live session was found,
	// and an error if the lookup failed. A missing session is not an error.
	// A session past its expiry is reported missing even while its record
	// still waits for the sweeper.
	Get(ctx context.Context, id string) (p Payload, found bool, err error)

	// Set stores the payload for the given session id, replacing any
	// previous value and recomputing its expiry.
	Set(ctx context.Context, id string, p Payload) error

	// Touch refreshes the session's expiry. Implementations may rewrite the
	// whole payload.
	Touch(ctx context.Context, id string, p Payload) error

	// Destroy removes the session. It should not return an error if the
	// session does not exist.
	Destroy(ctx context.Context, id string) error
}
