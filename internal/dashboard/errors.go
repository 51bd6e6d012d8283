package dashboard

import "errors"

var (
	// ErrUnauthenticated is returned for requests on a channel without identity.
	ErrUnauthenticated = errors.New("dashboard: not authenticated")

	// ErrAlreadyAuthenticated rejects a second auth on the same channel.
	ErrAlreadyAuthenticated = errors.New("dashboard: already authenticated")

	// ErrNotAllowed hides whether a device exists from users who do not own it.
	ErrNotAllowed = errors.New("dashboard: device not found")

	// ErrMalformed reports an undecodable envelope or payload.
	ErrMalformed = errors.New("dashboard: malformed frame")
)
