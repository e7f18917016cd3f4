package docgate

import "errors"

var (
	// ErrDecode is returned when a token is empty, not valid base64, or has the wrong field count.
	ErrDecode = errors.New("docgate: malformed token")

	// ErrDelimiterInField is returned when a token field contains the field delimiter.
	ErrDelimiterInField = errors.New("docgate: token field contains delimiter")

	// ErrInvalidInput is returned when Establish is called with an empty principal or secret.
	ErrInvalidInput = errors.New("docgate: principal and secret are required")

	// ErrNotAuthenticated is returned when an operation needs a live session and there is none.
	ErrNotAuthenticated = errors.New("docgate: not authenticated")

	// ErrPersistenceRead is returned when the store is unavailable or holds unparsable content.
	// The manager treats it like an absent session.
	ErrPersistenceRead = errors.New("docgate: failed to read persisted session")

	// ErrBroadcastUnavailable is logged when no cross-tab bus can be used.
	// The manager keeps running in single-tab mode.
	ErrBroadcastUnavailable = errors.New("docgate: broadcast bus unavailable")
)
