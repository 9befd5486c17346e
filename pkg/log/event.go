package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Message is a short human-readable description.
	Message string `cbor:"6,keyasint,omitempty"`

	// PeerID is the remote device identifier, when known.
	PeerID string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (at most one of these is set).
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"` // State transitions
	Data        *DataEvent        `cbor:"11,keyasint,omitempty"` // Chunk/message traffic
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors and warnings
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionDeviceToReader indicates data sent by the mdoc.
	DirectionDeviceToReader Direction = 0
	// DirectionReaderToDevice indicates data received from the reader.
	DirectionReaderToDevice Direction = 1
	// DirectionInternal indicates an event with no wire traffic.
	DirectionInternal Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionDeviceToReader:
		return "DEVICE_TO_READER"
	case DirectionReaderToDevice:
		return "READER_TO_DEVICE"
	case DirectionInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerLink is the radio link layer (GATT/L2CAP/simulated).
	LayerLink Layer = 0
	// LayerChunk is the chunking codec layer.
	LayerChunk Layer = 1
	// LayerSession is the session cryptography layer.
	LayerSession Layer = 2
	// LayerEngagement is the engagement data layer.
	LayerEngagement Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerLink:
		return "LINK"
	case LayerChunk:
		return "CHUNK"
	case LayerSession:
		return "SESSION"
	case LayerEngagement:
		return "ENGAGEMENT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState indicates a state machine transition.
	CategoryState Category = 0
	// CategoryData indicates chunk or message traffic.
	CategoryData Category = 1
	// CategoryCrypto indicates a key-derivation or cipher operation.
	CategoryCrypto Category = 2
	// CategoryWarning indicates a recoverable anomaly (e.g. MTU
	// negotiation fallback, Ident mismatch).
	CategoryWarning Category = 3
	// CategoryError indicates a fatal error.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryData:
		return "DATA"
	case CategoryCrypto:
		return "CRYPTO"
	case CategoryWarning:
		return "WARNING"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures link or session state transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// DataEvent captures chunk and message traffic.
type DataEvent struct {
	// Size is the payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Chunks is the number of chunks making up the payload
	// (0 for single raw writes and socket traffic).
	Chunks int `cbor:"2,keyasint,omitempty"`

	// Final indicates the chunk carried the end-of-message marker.
	Final bool `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors and warnings at any layer.
type ErrorEventData struct {
	// Message is the error text.
	Message string `cbor:"1,keyasint"`

	// Context describes what was happening when the error occurred.
	Context string `cbor:"2,keyasint,omitempty"`
}

// NewEvent creates an event with the timestamp set to now.
func NewEvent(connID string, dir Direction, layer Layer, cat Category, msg string) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        layer,
		Category:     cat,
		Message:      msg,
	}
}
