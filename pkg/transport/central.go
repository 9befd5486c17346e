package transport

import (
	"errors"
	"io"

	"github.com/google/uuid"
)

// Central errors.
var (
	// ErrMTUNotSupported indicates the platform cannot request an MTU
	// exchange. The connection degrades to DefaultChunkSize.
	ErrMTUNotSupported = errors.New("mtu negotiation not supported")

	// ErrL2CAPNotSupported indicates the platform cannot open
	// connection-oriented channels. The GATT path is used instead.
	ErrL2CAPNotSupported = errors.New("l2cap channels not supported")
)

// Advertisement is one received BLE advertisement.
type Advertisement struct {
	// PeerID is the platform identifier of the advertiser.
	PeerID string

	// RSSI is the received signal strength in dBm.
	RSSI int16

	// ServiceUUIDs are the service UUIDs carried in the advertisement.
	ServiceUUIDs []uuid.UUID
}

// Central is the platform BLE central a Connection drives. All
// methods initiate asynchronous platform operations; their outcomes
// arrive as events on the sink registered with SetEventSink. Methods
// return an error only when the operation cannot be started.
//
// Implementations must deliver events for one connection sequentially.
type Central interface {
	// SetEventSink registers the event destination. Must be called
	// before any other method.
	SetEventSink(sink EventSink)

	// StartScan begins advertisement discovery. Each received
	// advertisement is passed to onAdv (possibly from a platform
	// goroutine; the scanner serialises internally). Platform errors
	// during the scan window go to onErr; they do not end the window.
	StartScan(onAdv func(Advertisement), onErr func(error)) error

	// StopScan ends advertisement discovery.
	StopScan() error

	// Connect initiates a connection to the peer.
	// Outcome: EventConnected or EventFailure.
	Connect(peerID string) error

	// DiscoverService resolves the service and its characteristics.
	// Outcome: EventServiceDiscovered or EventFailure.
	DiscoverService(service uuid.UUID) error

	// RequestMTU initiates an ATT MTU exchange. Returns
	// ErrMTUNotSupported when the platform cannot negotiate.
	// Outcome: EventMTUChanged or nothing (the connection applies a
	// timeout).
	RequestMTU(mtu uint16) error

	// Subscribe enables notifications on a characteristic.
	// Outcome: EventSubscribed, then EventNotification per value.
	Subscribe(char uuid.UUID) error

	// WriteCharacteristic writes a value.
	// Outcome: EventWriteCompleted or EventFailure.
	WriteCharacteristic(char uuid.UUID, value []byte) error

	// ReadCharacteristic reads a value.
	// Outcome: EventReadCompleted or EventFailure.
	ReadCharacteristic(char uuid.UUID) error

	// OpenL2CAP synchronously opens a connection-oriented channel to
	// the peer on the given PSM. Returns ErrL2CAPNotSupported when
	// unavailable.
	OpenL2CAP(psm uint16) (io.ReadWriteCloser, error)

	// Disconnect tears the platform connection down. Safe to call in
	// any state; further events are ignored by the connection.
	Disconnect() error
}

// EventSink receives platform events for one connection.
type EventSink interface {
	// Deliver hands one event to the connection. Non-blocking for
	// well-behaved connections; events delivered after close are
	// dropped.
	Deliver(ev Event)
}

// Event is a platform callback routed through the dispatch goroutine.
type Event interface {
	isEvent()
}

// EventConnected reports a completed platform connection.
type EventConnected struct{}

// EventDisconnected reports the platform connection dropped.
type EventDisconnected struct {
	// Reason is the platform error, nil for an orderly remote close.
	Reason error
}

// EventServiceDiscovered reports resolved characteristics.
type EventServiceDiscovered struct {
	// Characteristics is the set of characteristic UUIDs found under
	// the service.
	Characteristics map[uuid.UUID]bool
}

// EventMTUChanged reports the negotiated ATT MTU.
type EventMTUChanged struct {
	MTU uint16
}

// EventSubscribed reports completed notification enablement.
type EventSubscribed struct {
	Char uuid.UUID
}

// EventWriteCompleted reports a completed characteristic write.
type EventWriteCompleted struct {
	Char uuid.UUID
}

// EventReadCompleted reports a completed characteristic read.
type EventReadCompleted struct {
	Char  uuid.UUID
	Value []byte
}

// EventNotification delivers a characteristic notification value.
type EventNotification struct {
	Char  uuid.UUID
	Value []byte
}

// EventFailure reports a failed platform operation.
type EventFailure struct {
	// Op names the failed operation.
	Op string

	// Err is the platform error.
	Err error
}

func (EventConnected) isEvent()         {}
func (EventDisconnected) isEvent()      {}
func (EventServiceDiscovered) isEvent() {}
func (EventMTUChanged) isEvent()        {}
func (EventSubscribed) isEvent()        {}
func (EventWriteCompleted) isEvent()    {}
func (EventReadCompleted) isEvent()     {}
func (EventNotification) isEvent()      {}
func (EventFailure) isEvent()           {}
