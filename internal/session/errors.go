package session

import "errors"

var (
	// ErrNotConnected is returned once the transport is gone: after Close,
	// after the device closed the stream, or when a send fails.
	ErrNotConnected = errors.New("not connected")

	// ErrNotAuthenticated is returned by operations that need a logged-in
	// session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAlreadyAuthenticated is returned by Authenticate on a logged-in
	// session.
	ErrAlreadyAuthenticated = errors.New("already authenticated")

	// ErrBadAuthentication is returned when credentials are rejected or the
	// prompt answerer gives up.
	ErrBadAuthentication = errors.New("authentication failed")
)
