package relaynet

import "errors"

// Standard errors returned by engines and registration calls.
var (
	ErrAlreadyStarted      = errors.New("engine already started")
	ErrNotStarted          = errors.New("engine not started")
	ErrNoDrivers           = errors.New("no transport drivers configured")
	ErrBindFailed          = errors.New("driver bind failed")
	ErrZeroMaxPlayers      = errors.New("max_players must be greater than zero")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrWriterTooSmall      = errors.New("writer too small for message preamble")
	ErrSendDiscarded       = errors.New("send discarded by pipeline")
	ErrSendDisconnected    = errors.New("send pipeline requested disconnect")
	ErrHandleCommitted     = errors.New("send handle already committed or aborted")
	ErrMissingDeserializer = errors.New("no deserializer registered for parameter type")
	ErrMissingSerializer   = errors.New("no serializer registered for type")
	ErrBadHandlerShape     = errors.New("handler function has an unsupported signature")
	ErrControlKeyRange     = errors.New("control key out of range")
)

// Error codes are stable small integers logged per failure site so
// operators can triage without matching message text.
const (
	// engine lifecycle
	CodeEngineDoubleStart = 100
	CodeEngineNoDrivers   = 101
	CodeEngineZeroCap     = 102
	CodeEngineStopFailed  = 103

	// driver bind
	CodeBindFailed  = 200
	CodeBindPartial = 201

	// connections
	CodeAcceptOverCap     = 300
	CodeConnectionExpired = 301
	CodeDisconnectForced  = 302

	// registration
	CodeMissingDeserializer = 400
	CodeBadHandlerShape     = 401
	CodeControlKeyRange     = 402
)

// Warning codes cover recoverable per-frame conditions.
const (
	WarnUnknownKey       = 500
	WarnPermissionDenied = 501
	WarnFramingError     = 502
	WarnControlLength    = 503
	WarnHandlerPanic     = 504
)
