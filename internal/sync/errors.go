package sync

import "errors"

// Failure classes surfaced by the engine. Read-path degradations are
// logged and converted to cached/empty results instead of being returned.
var (
	// ErrNotAuthenticated means no owner identity is available. Fatal to
	// the call, never retried.
	ErrNotAuthenticated = errors.New("no authenticated account")

	// ErrLocalPersistence means a cache read or write failed. Fatal to
	// the specific call since local durability is a precondition.
	ErrLocalPersistence = errors.New("local cache failure")

	// ErrRemoteDelivery means the gateway rejected or failed a send. The
	// message stays pending and is retried on reconnect.
	ErrRemoteDelivery = errors.New("remote delivery failed")
)
