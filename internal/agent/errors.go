package agent

import "errors"

var (
	// ErrUnavailable means the provider kept failing past the consecutive
	// error budget, or could not be reached at all.
	ErrUnavailable = errors.New("agent provider unavailable")

	// ErrTimeout means the provider never produced a result within the
	// polling attempt ceiling.
	ErrTimeout = errors.New("agent response timed out")

	// ErrRequestInvalid means the provider rejected the request outright
	// (a 4xx). Retrying the same request will not help.
	ErrRequestInvalid = errors.New("agent request rejected")

	// ErrFailed means the provider reported a terminal failure for the
	// turn.
	ErrFailed = errors.New("agent reported failure")
)
