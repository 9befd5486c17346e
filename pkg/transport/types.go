package transport

import (
	"time"

	"github.com/google/uuid"

	"github.com/mdoc-protocol/mdoc-go/pkg/log"
)

// GATT characteristic UUIDs of the mdoc BLE profile. The reader's
// GATT server exposes these under the service UUID advertised in the
// device engagement.
var (
	// CharState is the handshake/termination signaling characteristic.
	CharState = uuid.MustParse("00000001-A123-48CE-896B-4C76973373E6")

	// CharClient2Server carries chunks written by the mdoc.
	CharClient2Server = uuid.MustParse("00000002-A123-48CE-896B-4C76973373E6")

	// CharServer2Client delivers chunks to the mdoc via notifications.
	CharServer2Client = uuid.MustParse("00000003-A123-48CE-896B-4C76973373E6")

	// CharIdent is the optional peer-confirmation characteristic.
	CharIdent = uuid.MustParse("00000008-A123-48CE-896B-4C76973373E6")

	// CharL2CAPPSM is the optional characteristic carrying the PSM of
	// the reader's L2CAP connection-oriented channel.
	CharL2CAPPSM = uuid.MustParse("0000000B-A123-48CE-896B-4C76973373E6")
)

// State characteristic values.
const (
	// StateReady is written by the mdoc to signal "ready to receive".
	StateReady = 0x01

	// StateTerminate signals session termination to the peer.
	StateTerminate = 0x02
)

// ATT sizing constants.
const (
	// TargetMTU is the ATT MTU requested during negotiation.
	TargetMTU = 515

	// ATTHeaderSize is the ATT write/notify opcode+handle overhead
	// subtracted from the MTU to obtain the usable chunk size.
	ATTHeaderSize = 3

	// MaxChunkSize caps the chunk payload at the maximum attribute
	// body length the radio standard permits.
	MaxChunkSize = 512

	// DefaultChunkSize is the conservative chunk size used when MTU
	// negotiation never completes (minimum ATT MTU 23 − 3).
	DefaultChunkSize = 20
)

// Timing defaults.
const (
	// DefaultMTUTimeout bounds how long the connection waits for the
	// platform to report a negotiated MTU before degrading to
	// DefaultChunkSize.
	DefaultMTUTimeout = 2 * time.Second

	// TerminationLingerDelay is the grace delay between draining the
	// outbound queue on shutdown and tearing down the link, so final
	// chunks are not dropped by the platform stack.
	TerminationLingerDelay = 50 * time.Millisecond
)

// PeerCandidate is a device discovered during a scan window.
type PeerCandidate struct {
	// ID is the platform identifier used to connect (address or handle).
	ID string

	// RSSI is the received signal strength in dBm.
	RSSI int16

	// ServiceID is the advertised mdoc service UUID that matched.
	ServiceID uuid.UUID

	// LastSeen is when the advertisement was last received.
	LastSeen time.Time
}

// Mode is the selected chunk exchange mechanism.
type Mode uint8

const (
	// ModeGATT exchanges chunks over characteristic writes and
	// notifications.
	ModeGATT Mode = 0

	// ModeL2CAP exchanges messages over a connection-oriented socket.
	ModeL2CAP Mode = 1
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeGATT:
		return "GATT"
	case ModeL2CAP:
		return "L2CAP"
	default:
		return "UNKNOWN"
	}
}

// LinkHandler receives link lifecycle and message callbacks.
// All callbacks are invoked from the connection's dispatch goroutine;
// implementations must not block.
type LinkHandler interface {
	// OnPeerConnected is invoked once the handshake completes and the
	// link is open.
	OnPeerConnected()

	// OnMessageReceived delivers one complete reassembled message.
	OnMessageReceived(msg []byte)

	// OnPeerDisconnected is invoked when the link closes normally
	// (local shutdown, peer shutdown sentinel, or socket close).
	OnPeerDisconnected()

	// OnTransportTermination is invoked when the peer signals
	// termination through the State characteristic.
	OnTransportTermination()

	// OnError reports a fatal link error. The connection is closed
	// before the callback fires.
	OnError(err error)
}

// Link is the message-level transport surface exposed to the session
// layer. Both the GATT connection and the simulated link implement it.
type Link interface {
	// SendMessage queues a message for transmission. A nil or empty
	// message is the shutdown sentinel: the queue drains and the link
	// closes after the termination linger delay.
	SendMessage(msg []byte) error

	// Write sends pre-chunked raw bytes directly, bypassing the
	// chunking codec. Intended for diagnostics.
	Write(raw []byte) error

	// Close tears the link down immediately without the shutdown
	// handshake.
	Close() error
}

// Config configures a Connection.
type Config struct {
	// ServiceUUID is the mdoc service to discover, from the device
	// engagement retrieval method.
	ServiceUUID uuid.UUID

	// TargetMTU is the ATT MTU to request. Default TargetMTU.
	TargetMTU uint16

	// MTUTimeout bounds MTU negotiation. Default DefaultMTUTimeout.
	MTUTimeout time.Duration

	// EDeviceKeyBytes is the encoded device ephemeral key used to
	// derive the expected Ident value. Ident verification is skipped
	// when empty.
	EDeviceKeyBytes []byte

	// PreferL2CAP enables the connection-oriented socket fallback
	// when the peer publishes a PSM and the platform supports it.
	PreferL2CAP bool

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// DefaultConfig returns the default connection configuration for the
// given service UUID.
func DefaultConfig(serviceUUID uuid.UUID) Config {
	return Config{
		ServiceUUID: serviceUUID,
		TargetMTU:   TargetMTU,
		MTUTimeout:  DefaultMTUTimeout,
		PreferL2CAP: true,
	}
}
