package transport

import "errors"

// Connection errors.
var (
	// ErrMissingCharacteristic indicates a mandatory characteristic
	// (State, Client2Server or Server2Client) was not found during
	// service discovery.
	ErrMissingCharacteristic = errors.New("missing mandatory characteristic")

	// ErrAlreadyConnected indicates Connect was called on a used
	// connection. Connections are single-use.
	ErrAlreadyConnected = errors.New("connection already used")

	// ErrNotOpen indicates a send on a connection that is not open.
	ErrNotOpen = errors.New("connection not open")

	// ErrChunkTooLarge indicates a raw write larger than the
	// negotiated attribute size.
	ErrChunkTooLarge = errors.New("raw write exceeds negotiated chunk size")

	// ErrRawWriteL2CAP indicates a raw attribute write on a connection
	// that exchanges data over an L2CAP channel.
	ErrRawWriteL2CAP = errors.New("raw writes unavailable on l2cap channel")

	// ErrConnectionLost indicates the platform connection dropped
	// while the link was in use.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoDeviceFound indicates a scan window ended without any
	// matching advertisement.
	ErrNoDeviceFound = errors.New("no device found")
)
