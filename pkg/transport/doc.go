// Package transport provides the mdoc link-layer transport.
//
// The transport layer handles:
//   - BLE scanning and peer selection
//   - GATT service/characteristic discovery and MTU negotiation
//   - the notification handshake and chunked message exchange
//   - the optional L2CAP connection-oriented socket fallback
//   - message chunking and reassembly
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│    Session Messages (CBOR)     │
//	├────────────────────────────────┤
//	│   Chunking (1B marker + data)  │
//	├────────────────────────────────┤
//	│  GATT notifications / writes   │──── or L2CAP CoC socket
//	├────────────────────────────────┤
//	│            BLE ATT             │
//	└────────────────────────────────┘
//
// # Roles
//
// This package implements the mdoc central client mode: the mdoc acts
// as the GATT central and connects to the reader's GATT server. The
// reader exposes a State characteristic for handshake and termination
// signaling, a Client2Server characteristic the mdoc writes chunks to,
// and a Server2Client characteristic delivering chunks via
// notifications. Optional Ident and L2CAP PSM characteristics enable
// best-effort peer confirmation and the socket fallback.
//
// # Callback model
//
// A Connection is driven entirely by platform callbacks. The Central
// implementation delivers events into the connection's dispatch
// goroutine; no two callbacks for one connection are processed
// concurrently. Exactly one outbound chunk write is in flight at any
// time, enforced by a FIFO queue drained from write-completion events.
package transport
