package transport

// LinkState is the connection state machine state. Transitions are
// driven exclusively by the dispatch goroutine.
type LinkState uint8

const (
	// StateIdle is the initial state before Connect.
	StateIdle LinkState = iota

	// StateConnecting waits for the platform connect callback.
	StateConnecting

	// StateServiceDiscovery waits for characteristic discovery.
	StateServiceDiscovery

	// StateMTUNegotiation waits for the negotiated MTU report.
	StateMTUNegotiation

	// StateIdentExchange waits for the Ident characteristic read.
	StateIdentExchange

	// StateL2CAPSetup waits for the PSM read before opening a socket.
	StateL2CAPSetup

	// StateNotificationSetup waits for notification enablement on
	// Server2Client, then State.
	StateNotificationSetup

	// StateHandshake waits for the "ready" write to State to complete.
	StateHandshake

	// StateOpen is the operational state: chunks flow both ways.
	StateOpen

	// StateClosing drains the outbound queue before teardown.
	StateClosing

	// StateClosed is terminal. Connections are not reused.
	StateClosed
)

// String returns the state name.
func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateServiceDiscovery:
		return "ServiceDiscovery"
	case StateMTUNegotiation:
		return "MtuNegotiation"
	case StateIdentExchange:
		return "IdentExchange"
	case StateL2CAPSetup:
		return "L2capSetup"
	case StateNotificationSetup:
		return "NotificationSetup"
	case StateHandshake:
		return "Handshake"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
