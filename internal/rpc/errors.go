package rpc

import "errors"

var (
	// ErrTimeout: the deadline elapsed before a reply arrived. Only the
	// local wait is abandoned, the remote side is not cancelled.
	ErrTimeout = errors.New("rpc: reply timed out")

	// ErrDecode: a reply arrived for the call but its payload could not be
	// decoded. Treated by callers exactly like a timeout.
	ErrDecode = errors.New("rpc: malformed reply payload")

	// ErrClosed: the bridge is shutting down, all pending calls are failed.
	ErrClosed = errors.New("rpc: bridge closed")
)
