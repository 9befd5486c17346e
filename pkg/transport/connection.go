package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdoc-protocol/mdoc-go/pkg/log"
)

// mandatoryCharacteristics must all be present after service discovery.
var mandatoryCharacteristics = []uuid.UUID{CharState, CharClient2Server, CharServer2Client}

// Connection is the link transport state machine for one BLE
// connection. It is single-use: create, Connect, exchange messages,
// Close. All state transitions happen on the dispatch goroutine;
// platform callbacks and application commands are routed through the
// same event channel, so no two of them are processed concurrently.
type Connection struct {
	central Central
	cfg     Config
	handler LinkHandler
	logger  log.Logger
	id      string

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	state    LinkState
	peer     PeerCandidate
	mode     Mode
	attrSize int // max attribute value length, marker included

	// Dispatch-goroutine-owned fields (no locking needed).
	chars          map[uuid.UUID]bool
	reassembler    *Reassembler
	outbound       [][]byte
	writeInFlight  bool
	closing        bool // shutdown sentinel queued
	peerTerminated bool // State characteristic signalled 0x02
	mtuTimer       *time.Timer
	socket         io.ReadWriteCloser
	socketOut      chan []byte
}

// Internal command and timer events routed through the dispatch channel.
type (
	cmdSendMessage struct{ msg []byte }
	cmdWriteRaw    struct{ raw []byte }
	cmdClose       struct{}
	evMTUTimeout   struct{}
	evLingerDone   struct{}
	evSocketMsg    struct{ data []byte }
	evSocketClosed struct{ err error }
)

func (cmdSendMessage) isEvent() {}
func (cmdWriteRaw) isEvent()    {}
func (cmdClose) isEvent()       {}
func (evMTUTimeout) isEvent()   {}
func (evLingerDone) isEvent()   {}
func (evSocketMsg) isEvent()    {}
func (evSocketClosed) isEvent() {}

// NewConnection creates a connection over the given central.
// The handler receives all lifecycle and message callbacks.
func NewConnection(central Central, cfg Config, handler LinkHandler) *Connection {
	if cfg.TargetMTU == 0 {
		cfg.TargetMTU = TargetMTU
	}
	if cfg.MTUTimeout == 0 {
		cfg.MTUTimeout = DefaultMTUTimeout
	}

	c := &Connection{
		central:     central,
		cfg:         cfg,
		handler:     handler,
		logger:      log.OrNoop(cfg.Logger),
		id:          uuid.NewString(),
		events:      make(chan Event, 64),
		done:        make(chan struct{}),
		state:       StateIdle,
		attrSize:    DefaultChunkSize,
		reassembler: NewReassembler(),
	}
	central.SetEventSink(c)
	return c
}

// ID returns the connection identifier used in log events.
func (c *Connection) ID() string { return c.id }

// State returns the current link state.
func (c *Connection) State() LinkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the selected exchange mechanism. Meaningful once open.
func (c *Connection) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ChunkSize returns the negotiated maximum attribute value length
// (continuation marker included). Meaningful once open.
func (c *Connection) ChunkSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attrSize
}

// Connect initiates the connection to the selected peer. The result
// arrives through the handler: OnPeerConnected on success, OnError on
// failure. Connections are single-use; a second Connect returns
// ErrAlreadyConnected.
func (c *Connection) Connect(peer PeerCandidate) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.peer = peer
	c.mu.Unlock()

	c.logState(StateIdle, StateConnecting, "")
	go c.dispatchLoop()

	if err := c.central.Connect(peer.ID); err != nil {
		c.Deliver(EventFailure{Op: "connect", Err: err})
		return nil // reported through OnError
	}
	return nil
}

// SendMessage queues a message for transmission. A nil or empty
// message is the shutdown sentinel. Returns ErrNotOpen when the link
// is not open.
func (c *Connection) SendMessage(msg []byte) error {
	if s := c.State(); s != StateOpen {
		return ErrNotOpen
	}
	c.Deliver(cmdSendMessage{msg: msg})
	return nil
}

// Write sends pre-chunked raw bytes as a single attribute write,
// bypassing the chunking codec. Intended for diagnostics. Attribute
// writes exist only on the GATT path; on an L2CAP channel Write
// returns ErrRawWriteL2CAP.
func (c *Connection) Write(raw []byte) error {
	if s := c.State(); s != StateOpen {
		return ErrNotOpen
	}
	if c.Mode() == ModeL2CAP {
		return ErrRawWriteL2CAP
	}
	if len(raw) > c.ChunkSize() {
		return fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, len(raw), c.ChunkSize())
	}
	c.Deliver(cmdWriteRaw{raw: raw})
	return nil
}

// Close tears the link down immediately without the shutdown
// handshake. Safe to call in any state and more than once.
func (c *Connection) Close() error {
	c.Deliver(cmdClose{})
	return nil
}

// Deliver routes a platform event into the dispatch goroutine.
// Events arriving after teardown are dropped: teardown closes the
// done channel before releasing platform resources, so a callback
// racing with it is suppressed rather than acted upon.
func (c *Connection) Deliver(ev Event) {
	select {
	case <-c.done:
	case c.events <- ev:
	}
}

func (c *Connection) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.dispatch(ev)
			if c.State() == StateClosed {
				return
			}
		}
	}
}

// dispatch processes one event against the current state. Unexpected
// failures transition directly to Closed; there is no retry at this
// layer.
func (c *Connection) dispatch(ev Event) {
	switch ev := ev.(type) {
	case EventFailure:
		c.teardown(fmt.Errorf("platform %s failed: %w", ev.Op, ev.Err))

	case EventDisconnected:
		if c.State() == StateClosing || c.closing {
			c.teardown(nil)
			return
		}
		if ev.Reason != nil {
			c.teardown(fmt.Errorf("%w: %v", ErrConnectionLost, ev.Reason))
			return
		}
		c.teardown(ErrConnectionLost)

	case cmdClose:
		c.teardown(nil)

	case EventConnected:
		c.expectState(ev, StateConnecting, func() {
			c.setState(StateServiceDiscovery, "")
			if err := c.central.DiscoverService(c.cfg.ServiceUUID); err != nil {
				c.teardown(fmt.Errorf("service discovery failed: %w", err))
			}
		})

	case EventServiceDiscovered:
		c.expectState(ev, StateServiceDiscovery, func() {
			c.onServiceDiscovered(ev)
		})

	case EventMTUChanged:
		if c.State() != StateMTUNegotiation {
			return // late exchange result after a timeout degrade
		}
		c.stopMTUTimer()
		c.applyMTU(ev.MTU)
		c.afterMTU()

	case evMTUTimeout:
		if c.State() != StateMTUNegotiation {
			return // negotiation already completed
		}
		c.degradeChunkSize()
		c.logWarning("mtu negotiation timed out, using conservative default", "mtu")
		c.afterMTU()

	case EventReadCompleted:
		c.onReadCompleted(ev)

	case EventSubscribed:
		c.onSubscribed(ev)

	case EventWriteCompleted:
		c.onWriteCompleted(ev)

	case EventNotification:
		c.onNotification(ev)

	case cmdSendMessage:
		c.enqueueMessage(ev.msg)

	case cmdWriteRaw:
		c.enqueueRaw(ev.raw)

	case evLingerDone:
		c.teardown(nil)

	case evSocketMsg:
		c.onSocketMessage(ev.data)

	case evSocketClosed:
		if c.closing || ev.err == nil {
			c.teardown(nil)
			return
		}
		c.teardown(fmt.Errorf("%w: %v", ErrConnectionLost, ev.err))
	}
}

// expectState runs fn when the connection is in the expected state,
// otherwise closes the connection: an out-of-sequence platform
// callback means the peer or the stack violated the protocol.
func (c *Connection) expectState(ev Event, want LinkState, fn func()) {
	if s := c.State(); s != want {
		c.teardown(fmt.Errorf("unexpected %T in state %s", ev, s))
		return
	}
	fn()
}

func (c *Connection) onServiceDiscovered(ev EventServiceDiscovered) {
	c.chars = ev.Characteristics
	for _, id := range mandatoryCharacteristics {
		if !c.chars[id] {
			c.teardown(fmt.Errorf("%w: %s", ErrMissingCharacteristic, id))
			return
		}
	}

	c.setState(StateMTUNegotiation, "")
	err := c.central.RequestMTU(c.cfg.TargetMTU)
	if errors.Is(err, ErrMTUNotSupported) {
		c.degradeChunkSize()
		c.logWarning("platform cannot negotiate mtu, using conservative default", "mtu")
		c.afterMTU()
		return
	}
	if err != nil {
		c.teardown(fmt.Errorf("mtu request failed: %w", err))
		return
	}
	c.mtuTimer = time.AfterFunc(c.cfg.MTUTimeout, func() {
		c.Deliver(evMTUTimeout{})
	})
}

func (c *Connection) applyMTU(mtu uint16) {
	usable := int(mtu) - ATTHeaderSize
	if usable > MaxChunkSize {
		usable = MaxChunkSize
	}
	if usable < 1 {
		usable = DefaultChunkSize
	}
	c.mu.Lock()
	c.attrSize = usable
	c.mu.Unlock()
}

// degradeChunkSize falls back to the conservative attribute size when
// no MTU exchange result is available.
func (c *Connection) degradeChunkSize() {
	c.mu.Lock()
	c.attrSize = DefaultChunkSize
	c.mu.Unlock()
}

// afterMTU continues the setup sequence: optional Ident read, then
// optional L2CAP setup, then the notification handshake.
func (c *Connection) afterMTU() {
	if c.chars[CharIdent] && len(c.cfg.EDeviceKeyBytes) > 0 {
		c.setState(StateIdentExchange, "")
		if err := c.central.ReadCharacteristic(CharIdent); err != nil {
			c.teardown(fmt.Errorf("ident read failed: %w", err))
		}
		return
	}
	c.afterIdent()
}

func (c *Connection) afterIdent() {
	if c.cfg.PreferL2CAP && c.chars[CharL2CAPPSM] {
		c.setState(StateL2CAPSetup, "")
		if err := c.central.ReadCharacteristic(CharL2CAPPSM); err != nil {
			c.teardown(fmt.Errorf("psm read failed: %w", err))
		}
		return
	}
	c.startNotificationSetup()
}

func (c *Connection) onReadCompleted(ev EventReadCompleted) {
	switch {
	case ev.Char == CharIdent && c.State() == StateIdentExchange:
		c.verifyIdent(ev.Value)
		c.afterIdent()

	case ev.Char == CharL2CAPPSM && c.State() == StateL2CAPSetup:
		c.openL2CAP(ev.Value)

	default:
		c.teardown(fmt.Errorf("unexpected read completion for %s in state %s", ev.Char, c.State()))
	}
}

// verifyIdent compares the Ident value against the expected HKDF
// derivation. Identity confirmation is best-effort: a mismatch is
// logged but does not fail the connection.
func (c *Connection) verifyIdent(value []byte) {
	expected, err := ExpectedIdent(c.cfg.EDeviceKeyBytes)
	if err != nil {
		c.logWarning("ident derivation failed: "+err.Error(), "ident")
		return
	}
	if !bytesEqual(value, expected) {
		c.logWarning("ident mismatch, continuing", "ident")
	}
}

func (c *Connection) openL2CAP(psmValue []byte) {
	psm, err := parsePSM(psmValue)
	if err != nil {
		c.teardown(fmt.Errorf("invalid psm value: %w", err))
		return
	}

	sock, err := c.central.OpenL2CAP(psm)
	if errors.Is(err, ErrL2CAPNotSupported) {
		c.logWarning("l2cap unavailable, falling back to notifications", "l2cap")
		c.startNotificationSetup()
		return
	}
	if err != nil {
		c.teardown(fmt.Errorf("l2cap open failed: %w", err))
		return
	}

	c.mu.Lock()
	c.mode = ModeL2CAP
	c.socket = sock
	c.state = StateOpen
	c.mu.Unlock()
	c.logState(StateL2CAPSetup, StateOpen, "l2cap")

	c.socketOut = make(chan []byte, 16)
	go c.socketWriteLoop(sock)
	go c.socketReadLoop(sock)

	c.handler.OnPeerConnected()
}

func (c *Connection) startNotificationSetup() {
	c.setState(StateNotificationSetup, "")
	if err := c.central.Subscribe(CharServer2Client); err != nil {
		c.teardown(fmt.Errorf("subscribe server2client failed: %w", err))
	}
}

// onSubscribed advances the strictly sequenced notification
// handshake: Server2Client enabled → State enabled → ready signal.
func (c *Connection) onSubscribed(ev EventSubscribed) {
	if c.State() != StateNotificationSetup {
		c.teardown(fmt.Errorf("unexpected subscription ack for %s in state %s", ev.Char, c.State()))
		return
	}

	switch ev.Char {
	case CharServer2Client:
		if err := c.central.Subscribe(CharState); err != nil {
			c.teardown(fmt.Errorf("subscribe state failed: %w", err))
		}
	case CharState:
		c.setState(StateHandshake, "")
		if err := c.central.WriteCharacteristic(CharState, []byte{StateReady}); err != nil {
			c.teardown(fmt.Errorf("ready signal failed: %w", err))
		}
	default:
		c.teardown(fmt.Errorf("unexpected subscription ack for %s", ev.Char))
	}
}

func (c *Connection) onWriteCompleted(ev EventWriteCompleted) {
	switch {
	case ev.Char == CharState && c.State() == StateHandshake:
		c.setState(StateOpen, "")
		c.handler.OnPeerConnected()

	case ev.Char == CharState && c.State() == StateClosing:
		// Termination code delivered; linger so the final chunks are
		// not dropped by the platform stack, then tear down.
		time.AfterFunc(TerminationLingerDelay, func() {
			c.Deliver(evLingerDone{})
		})

	case ev.Char == CharClient2Server:
		c.writeInFlight = false
		c.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.id,
			Direction:    log.DirectionDeviceToReader,
			Layer:        log.LayerChunk,
			Category:     log.CategoryData,
			Message:      "chunk write completed",
			Data:         &log.DataEvent{Size: 0},
		})
		c.drainQueue()

	default:
		c.teardown(fmt.Errorf("unexpected write completion for %s in state %s", ev.Char, c.State()))
	}
}

func (c *Connection) onNotification(ev EventNotification) {
	if s := c.State(); s != StateOpen && s != StateClosing {
		c.teardown(fmt.Errorf("notification on %s in state %s", ev.Char, s))
		return
	}

	switch ev.Char {
	case CharState:
		if len(ev.Value) == 1 && ev.Value[0] == StateTerminate {
			c.peerTerminated = true
			c.teardown(nil)
			return
		}
		c.teardown(fmt.Errorf("unexpected state notification % x", ev.Value))

	case CharServer2Client:
		msg, done, sentinel, err := c.reassembler.Push(ev.Value)
		if err != nil {
			c.teardown(fmt.Errorf("chunk reassembly failed: %w", err))
			return
		}
		if !done {
			return
		}
		if sentinel {
			// Peer signalled shutdown at the chunk level.
			c.teardown(nil)
			return
		}
		c.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.id,
			Direction:    log.DirectionReaderToDevice,
			Layer:        log.LayerChunk,
			Category:     log.CategoryData,
			Message:      "message reassembled",
			Data:         &log.DataEvent{Size: len(msg), Final: true},
		})
		c.handler.OnMessageReceived(msg)

	default:
		c.teardown(fmt.Errorf("notification on unexpected characteristic %s", ev.Char))
	}
}

func (c *Connection) enqueueMessage(msg []byte) {
	if c.closing {
		return // shutdown already in progress
	}

	if c.mode == ModeL2CAP {
		if len(msg) == 0 {
			c.closing = true
			c.setState(StateClosing, "shutdown")
			c.socketOut <- nil
			return
		}
		c.socketOut <- msg
		return
	}

	chunks, err := SplitMessage(msg, c.chunkPayloadSize())
	if err != nil {
		c.teardown(fmt.Errorf("chunking failed: %w", err))
		return
	}
	if len(msg) == 0 {
		c.closing = true
		c.setState(StateClosing, "shutdown")
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionDeviceToReader,
		Layer:        log.LayerChunk,
		Category:     log.CategoryData,
		Message:      "message queued",
		Data:         &log.DataEvent{Size: len(msg), Chunks: len(chunks)},
	})
	c.outbound = append(c.outbound, chunks...)
	c.drainQueue()
}

func (c *Connection) enqueueRaw(raw []byte) {
	if c.closing || c.mode == ModeL2CAP {
		return
	}
	c.outbound = append(c.outbound, raw)
	c.drainQueue()
}

// drainQueue issues the next chunk write when none is outstanding.
// Exactly one write is ever in flight; the queue is refilled from
// write-completion events only.
func (c *Connection) drainQueue() {
	if c.writeInFlight {
		return
	}
	if len(c.outbound) == 0 {
		if c.closing {
			c.beginTermination()
		}
		return
	}

	chunk := c.outbound[0]
	c.outbound = c.outbound[1:]
	c.writeInFlight = true
	if err := c.central.WriteCharacteristic(CharClient2Server, chunk); err != nil {
		c.teardown(fmt.Errorf("chunk write failed: %w", err))
	}
}

// beginTermination writes the termination code to the State
// characteristic once the queue has drained. Sockets have no such
// side channel; they terminate by closing.
func (c *Connection) beginTermination() {
	if err := c.central.WriteCharacteristic(CharState, []byte{StateTerminate}); err != nil {
		c.teardown(fmt.Errorf("termination signal failed: %w", err))
	}
}

func (c *Connection) chunkPayloadSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attrSize - 1
}

// socketWriteLoop serialises L2CAP socket writes. A nil message is
// the shutdown sentinel: linger, close the socket, stop. The loop
// also exits when teardown closes the done channel, so a connection
// torn down without the sentinel does not strand the writer.
func (c *Connection) socketWriteLoop(sock io.ReadWriteCloser) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.socketOut:
			if msg == nil {
				time.Sleep(TerminationLingerDelay)
				_ = sock.Close()
				c.Deliver(evSocketClosed{})
				return
			}
			if _, err := sock.Write(msg); err != nil {
				c.Deliver(evSocketClosed{err: err})
				return
			}
		}
	}
}

// socketReadLoop delivers one message per socket read. SDU boundaries
// are preserved by the SEQPACKET socket (or the sim framing).
func (c *Connection) socketReadLoop(sock io.ReadWriteCloser) {
	buf := make([]byte, 65536)
	for {
		n, err := sock.Read(buf)
		if err != nil {
			c.Deliver(evSocketClosed{err: filterEOF(err)})
			return
		}
		if n == 0 {
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		c.Deliver(evSocketMsg{data: msg})
	}
}

func (c *Connection) onSocketMessage(data []byte) {
	if s := c.State(); s != StateOpen && s != StateClosing {
		return
	}
	c.handler.OnMessageReceived(data)
}

// teardown closes the connection exactly once. The done channel is
// closed before platform resources are released, so any callback
// racing with teardown is suppressed rather than acted upon.
func (c *Connection) teardown(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	old := c.state
	c.state = StateClosed
	c.mu.Unlock()

	close(c.done)
	c.stopMTUTimer()
	if c.socket != nil {
		_ = c.socket.Close()
	}
	_ = c.central.Disconnect()

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	c.logState(old, StateClosed, reason)

	switch {
	case err != nil:
		c.handler.OnError(err)
	case c.peerTerminated:
		c.handler.OnTransportTermination()
	default:
		c.handler.OnPeerDisconnected()
	}
}

func (c *Connection) stopMTUTimer() {
	if c.mtuTimer != nil {
		c.mtuTimer.Stop()
		c.mtuTimer = nil
	}
}

func (c *Connection) setState(next LinkState, reason string) {
	c.mu.Lock()
	old := c.state
	c.state = next
	c.mu.Unlock()
	c.logState(old, next, reason)
}

func (c *Connection) logState(old, next LinkState, reason string) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionInternal,
		Layer:        log.LayerLink,
		Category:     log.CategoryState,
		Message:      "link state changed",
		PeerID:       c.peer.ID,
		StateChange:  &log.StateChangeEvent{OldState: old.String(), NewState: next.String(), Reason: reason},
	})
}

func (c *Connection) logWarning(msg, context string) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionInternal,
		Layer:        log.LayerLink,
		Category:     log.CategoryWarning,
		Message:      msg,
		Error:        &log.ErrorEventData{Message: msg, Context: context},
	})
}

// parsePSM decodes the big-endian PSM value published by the peer.
func parsePSM(value []byte) (uint16, error) {
	if len(value) == 0 || len(value) > 8 {
		return 0, fmt.Errorf("psm length %d", len(value))
	}
	var psm uint64
	for _, b := range value {
		psm = psm<<8 | uint64(b)
	}
	if psm == 0 || psm > 0xFFFF {
		return 0, fmt.Errorf("psm %d out of range", psm)
	}
	return uint16(psm), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func filterEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Compile-time interface checks.
var (
	_ Link      = (*Connection)(nil)
	_ EventSink = (*Connection)(nil)
)
