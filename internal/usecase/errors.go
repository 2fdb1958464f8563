package usecase

import "errors"

var (
	// ErrUpstreamUnavailable indicates the rule store failed while loading a cold cache table.
	ErrUpstreamUnavailable = errors.New("rule store unavailable")
	// ErrInvalidRequest indicates a validation request is missing required fields.
	ErrInvalidRequest = errors.New("invalid permission request")
	// ErrMalformedChange indicates a change notification payload could not be decoded.
	ErrMalformedChange = errors.New("malformed change notification")
	// ErrUnknownChannel indicates a message arrived on a channel the listener does not serve.
	ErrUnknownChannel = errors.New("unknown change channel")
	// ErrChangeBusStale indicates no health-check heartbeat was received within the configured window.
	ErrChangeBusStale = errors.New("change bus stale")
)
