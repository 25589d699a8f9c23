package domain

import "errors"

// Error taxonomy for the negotiation core. The transport layer maps these to
// HTTP status codes; ErrUpstream is recovered inside the engine and never
// reaches a caller.
var (
	// ErrInvalidArgument signals missing or malformed required fields.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthorized signals a failed access-code check.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound signals an unknown session key.
	ErrNotFound = errors.New("session not found")
	// ErrBusy signals a concurrent turn collision on one session.
	ErrBusy = errors.New("turn already in progress")
	// ErrUpstream signals a dialogue generator failure.
	ErrUpstream = errors.New("dialogue generator unavailable")
)
