package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testServiceUUID = uuid.MustParse("0000D981-A123-48CE-896B-4C76973373E6")

// fakeCentral is a scripted platform central. Operations append to the
// op log and auto-deliver their completion events unless configured
// otherwise.
type fakeCentral struct {
	mu   sync.Mutex
	sink EventSink

	chars       map[uuid.UUID]bool
	mtu         uint16 // 0 = never respond to RequestMTU
	mtuErr      error
	readValues  map[uuid.UUID][]byte
	l2capSock   io.ReadWriteCloser
	l2capErr    error
	manualC2S   bool // suppress auto-completion of Client2Server writes
	connectErr  error
	scanErr     error
	stopScanErr error
	onAdv       func(Advertisement)
	onScanErr   func(error)

	ops    []string
	writes []fakeWrite
}

type fakeWrite struct {
	char  uuid.UUID
	value []byte
}

func newFakeCentral() *fakeCentral {
	return &fakeCentral{
		chars: map[uuid.UUID]bool{
			CharState:         true,
			CharClient2Server: true,
			CharServer2Client: true,
		},
		mtu:        515,
		readValues: map[uuid.UUID][]byte{},
		l2capErr:   ErrL2CAPNotSupported,
	}
}

func (f *fakeCentral) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *fakeCentral) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeCentral) writeLog() []fakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeWrite(nil), f.writes...)
}

func (f *fakeCentral) SetEventSink(sink EventSink) { f.sink = sink }

func (f *fakeCentral) StartScan(onAdv func(Advertisement), onErr func(error)) error {
	f.record("start-scan")
	f.mu.Lock()
	f.onAdv = onAdv
	f.onScanErr = onErr
	f.mu.Unlock()
	if f.scanErr != nil {
		return f.scanErr
	}
	return nil
}

func (f *fakeCentral) StopScan() error {
	f.record("stop-scan")
	return f.stopScanErr
}

// emitAdv simulates a received advertisement.
func (f *fakeCentral) emitAdv(adv Advertisement) {
	f.mu.Lock()
	cb := f.onAdv
	f.mu.Unlock()
	if cb != nil {
		cb(adv)
	}
}

// emitScanErr simulates a platform error during the scan window.
func (f *fakeCentral) emitScanErr(err error) {
	f.mu.Lock()
	cb := f.onScanErr
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakeCentral) Connect(peerID string) error {
	f.record("connect:" + peerID)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.sink.Deliver(EventConnected{})
	return nil
}

func (f *fakeCentral) DiscoverService(service uuid.UUID) error {
	f.record("discover:" + service.String())
	f.sink.Deliver(EventServiceDiscovered{Characteristics: f.chars})
	return nil
}

func (f *fakeCentral) RequestMTU(mtu uint16) error {
	f.record("request-mtu")
	if f.mtuErr != nil {
		return f.mtuErr
	}
	if f.mtu > 0 {
		f.sink.Deliver(EventMTUChanged{MTU: f.mtu})
	}
	return nil
}

func (f *fakeCentral) Subscribe(char uuid.UUID) error {
	f.record("subscribe:" + char.String())
	f.sink.Deliver(EventSubscribed{Char: char})
	return nil
}

func (f *fakeCentral) WriteCharacteristic(char uuid.UUID, value []byte) error {
	f.mu.Lock()
	f.ops = append(f.ops, "write:"+char.String())
	f.writes = append(f.writes, fakeWrite{char: char, value: append([]byte(nil), value...)})
	manual := f.manualC2S && char == CharClient2Server
	f.mu.Unlock()

	if !manual {
		f.sink.Deliver(EventWriteCompleted{Char: char})
	}
	return nil
}

func (f *fakeCentral) ReadCharacteristic(char uuid.UUID) error {
	f.record("read:" + char.String())
	f.sink.Deliver(EventReadCompleted{Char: char, Value: f.readValues[char]})
	return nil
}

func (f *fakeCentral) OpenL2CAP(psm uint16) (io.ReadWriteCloser, error) {
	f.record("open-l2cap")
	if f.l2capErr != nil {
		return nil, f.l2capErr
	}
	return f.l2capSock, nil
}

func (f *fakeCentral) Disconnect() error { f.record("disconnect"); return nil }

// recordingHandler collects callbacks on channels the test waits on.
type recordingHandler struct {
	connected    chan struct{}
	messages     chan []byte
	disconnected chan struct{}
	terminated   chan struct{}
	errs         chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected:    make(chan struct{}, 4),
		messages:     make(chan []byte, 16),
		disconnected: make(chan struct{}, 4),
		terminated:   make(chan struct{}, 4),
		errs:         make(chan error, 4),
	}
}

func (h *recordingHandler) OnPeerConnected()            { h.connected <- struct{}{} }
func (h *recordingHandler) OnMessageReceived(m []byte)  { h.messages <- m }
func (h *recordingHandler) OnPeerDisconnected()         { h.disconnected <- struct{}{} }
func (h *recordingHandler) OnTransportTermination()     { h.terminated <- struct{}{} }
func (h *recordingHandler) OnError(err error)           { h.errs <- err }

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitError(t *testing.T, ch chan error, what string) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func waitMessage(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func openConnection(t *testing.T, central *fakeCentral, cfg Config) (*Connection, *recordingHandler) {
	t.Helper()
	handler := newRecordingHandler()
	conn := NewConnection(central, cfg, handler)
	if err := conn.Connect(PeerCandidate{ID: "peer-1", ServiceID: cfg.ServiceUUID}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitSignal(t, handler.connected, "peer connected")
	return conn, handler
}

func TestConnectionHappyPath(t *testing.T) {
	central := newFakeCentral()
	cfg := DefaultConfig(testServiceUUID)
	conn, _ := openConnection(t, central, cfg)

	if got := conn.State(); got != StateOpen {
		t.Errorf("state = %s, want Open", got)
	}
	if got := conn.Mode(); got != ModeGATT {
		t.Errorf("mode = %s, want GATT", got)
	}
	// MTU 515 − 3 header = 512, at the attribute cap.
	if got := conn.ChunkSize(); got != 512 {
		t.Errorf("chunk size = %d, want 512", got)
	}

	// Handshake ordering: Server2Client subscription before State
	// subscription before the ready write.
	writes := central.writeLog()
	if len(writes) != 1 || writes[0].char != CharState || !bytes.Equal(writes[0].value, []byte{StateReady}) {
		t.Errorf("handshake writes = %+v", writes)
	}

	var subs []string
	for _, op := range central.opLog() {
		if len(op) > 10 && op[:10] == "subscribe:" {
			subs = append(subs, op[10:])
		}
	}
	if len(subs) != 2 || subs[0] != CharServer2Client.String() || subs[1] != CharState.String() {
		t.Errorf("subscription order = %v", subs)
	}
}

func TestConnectionMissingCharacteristic(t *testing.T) {
	central := newFakeCentral()
	delete(central.chars, CharClient2Server)

	handler := newRecordingHandler()
	conn := NewConnection(central, DefaultConfig(testServiceUUID), handler)
	if err := conn.Connect(PeerCandidate{ID: "peer-1"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	err := waitError(t, handler.errs, "error")
	if !errors.Is(err, ErrMissingCharacteristic) {
		t.Errorf("error = %v, want ErrMissingCharacteristic", err)
	}
	if got := conn.State(); got != StateClosed {
		t.Errorf("state = %s, want Closed", got)
	}
}

func TestConnectionMTUDegradedMode(t *testing.T) {
	central := newFakeCentral()
	central.mtu = 0 // platform never reports a negotiated MTU

	cfg := DefaultConfig(testServiceUUID)
	cfg.MTUTimeout = 50 * time.Millisecond
	conn, _ := openConnection(t, central, cfg)

	if got := conn.ChunkSize(); got != DefaultChunkSize {
		t.Errorf("chunk size = %d, want conservative default %d", got, DefaultChunkSize)
	}
	if got := conn.State(); got != StateOpen {
		t.Errorf("state = %s, want Open (degraded mode is not fatal)", got)
	}
}

func TestConnectionLateMTUResultAfterDegrade(t *testing.T) {
	central := newFakeCentral()
	central.mtu = 0 // platform never reports a negotiated MTU

	cfg := DefaultConfig(testServiceUUID)
	cfg.MTUTimeout = 50 * time.Millisecond
	conn, handler := openConnection(t, central, cfg)
	if got := conn.ChunkSize(); got != DefaultChunkSize {
		t.Fatalf("chunk size = %d, want %d", got, DefaultChunkSize)
	}

	// A slow platform can still report the exchange result after the
	// timeout degrade. The open link must ignore it, not tear down.
	conn.Deliver(EventMTUChanged{MTU: 250})

	select {
	case err := <-handler.errs:
		t.Fatalf("late MTU result closed the link: %v", err)
	case <-handler.disconnected:
		t.Fatal("late MTU result disconnected the link")
	case <-time.After(100 * time.Millisecond):
	}
	if got := conn.State(); got != StateOpen {
		t.Errorf("state = %s, want Open", got)
	}
	if got := conn.ChunkSize(); got != DefaultChunkSize {
		t.Errorf("chunk size = %d, want %d (degrade is final)", got, DefaultChunkSize)
	}
}

func TestConnectionChunkSizeDuringDegrade(t *testing.T) {
	central := newFakeCentral()
	central.mtu = 0

	cfg := DefaultConfig(testServiceUUID)
	cfg.MTUTimeout = 20 * time.Millisecond

	handler := newRecordingHandler()
	conn := NewConnection(central, cfg, handler)

	// Poll the chunk size concurrently with the timeout degrade; the
	// race detector flags an unsynchronised fallback write.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = conn.ChunkSize()
			}
		}
	}()

	if err := conn.Connect(PeerCandidate{ID: "peer-1"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitSignal(t, handler.connected, "peer connected")
	close(stop)
	wg.Wait()

	if got := conn.ChunkSize(); got != DefaultChunkSize {
		t.Errorf("chunk size = %d, want %d", got, DefaultChunkSize)
	}
}

func TestConnectionMTUNotSupported(t *testing.T) {
	central := newFakeCentral()
	central.mtuErr = ErrMTUNotSupported

	conn, _ := openConnection(t, central, DefaultConfig(testServiceUUID))
	if got := conn.ChunkSize(); got != DefaultChunkSize {
		t.Errorf("chunk size = %d, want %d", got, DefaultChunkSize)
	}
}

func TestConnectionIdentMismatchNonFatal(t *testing.T) {
	keyBytes := []byte("encoded-device-key")
	central := newFakeCentral()
	central.chars[CharIdent] = true
	central.readValues[CharIdent] = bytes.Repeat([]byte{0xEE}, IdentLength) // wrong

	cfg := DefaultConfig(testServiceUUID)
	cfg.EDeviceKeyBytes = keyBytes
	conn, _ := openConnection(t, central, cfg)

	if got := conn.State(); got != StateOpen {
		t.Errorf("state = %s, want Open (ident mismatch is best-effort)", got)
	}

	found := false
	for _, op := range central.opLog() {
		if op == "read:"+CharIdent.String() {
			found = true
		}
	}
	if !found {
		t.Error("ident characteristic was never read")
	}
}

func TestConnectionIdentMatch(t *testing.T) {
	keyBytes := []byte("encoded-device-key")
	ident, err := ExpectedIdent(keyBytes)
	if err != nil {
		t.Fatalf("ExpectedIdent failed: %v", err)
	}

	central := newFakeCentral()
	central.chars[CharIdent] = true
	central.readValues[CharIdent] = ident

	cfg := DefaultConfig(testServiceUUID)
	cfg.EDeviceKeyBytes = keyBytes
	conn, _ := openConnection(t, central, cfg)
	if got := conn.State(); got != StateOpen {
		t.Errorf("state = %s, want Open", got)
	}
}

func TestConnectionL2CAPPath(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	central := newFakeCentral()
	central.chars[CharL2CAPPSM] = true
	central.readValues[CharL2CAPPSM] = []byte{0x00, 0x25}
	central.l2capSock = local
	central.l2capErr = nil

	conn, handler := openConnection(t, central, DefaultConfig(testServiceUUID))
	if got := conn.Mode(); got != ModeL2CAP {
		t.Fatalf("mode = %s, want L2CAP", got)
	}

	// Outbound: messages go to the socket unchunked.
	go func() {
		if err := conn.SendMessage([]byte("over-the-socket")); err != nil {
			t.Errorf("SendMessage failed: %v", err)
		}
	}()
	buf := make([]byte, 64)
	n, err := remote.Read(buf)
	if err != nil {
		t.Fatalf("socket read failed: %v", err)
	}
	if string(buf[:n]) != "over-the-socket" {
		t.Errorf("socket payload = %q", buf[:n])
	}

	// Inbound: one socket write is one message.
	if _, err := remote.Write([]byte("from-reader")); err != nil {
		t.Fatalf("socket write failed: %v", err)
	}
	if got := waitMessage(t, handler.messages); string(got) != "from-reader" {
		t.Errorf("message = %q", got)
	}

	// Notification handshake must have been bypassed entirely.
	for _, op := range central.opLog() {
		if op == "subscribe:"+CharState.String() || op == "subscribe:"+CharServer2Client.String() {
			t.Errorf("unexpected %s on the l2cap path", op)
		}
	}
}

func TestConnectionL2CAPCloseStopsSocketWriter(t *testing.T) {
	before := runtime.NumGoroutine()

	local, remote := net.Pipe()
	defer remote.Close()

	central := newFakeCentral()
	central.chars[CharL2CAPPSM] = true
	central.readValues[CharL2CAPPSM] = []byte{0x00, 0x25}
	central.l2capSock = local
	central.l2capErr = nil

	conn, handler := openConnection(t, central, DefaultConfig(testServiceUUID))
	if got := conn.Mode(); got != ModeL2CAP {
		t.Fatalf("mode = %s, want L2CAP", got)
	}

	// A local close skips the shutdown sentinel; the socket writer must
	// still exit with the rest of the connection.
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitSignal(t, handler.disconnected, "peer disconnected")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("goroutines = %d, want at most %d (socket writer leaked)", runtime.NumGoroutine(), before)
}

func TestConnectionRawWriteRejectedOnL2CAP(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	central := newFakeCentral()
	central.chars[CharL2CAPPSM] = true
	central.readValues[CharL2CAPPSM] = []byte{0x00, 0x25}
	central.l2capSock = local
	central.l2capErr = nil

	conn, _ := openConnection(t, central, DefaultConfig(testServiceUUID))
	if got := conn.Mode(); got != ModeL2CAP {
		t.Fatalf("mode = %s, want L2CAP", got)
	}

	if err := conn.Write([]byte{MarkerLastChunk, 0x01}); !errors.Is(err, ErrRawWriteL2CAP) {
		t.Errorf("raw write on l2cap = %v, want ErrRawWriteL2CAP", err)
	}
}

func TestConnectionL2CAPUnsupportedFallsBack(t *testing.T) {
	central := newFakeCentral()
	central.chars[CharL2CAPPSM] = true
	central.readValues[CharL2CAPPSM] = []byte{0x00, 0x25}
	// l2capErr stays ErrL2CAPNotSupported

	conn, _ := openConnection(t, central, DefaultConfig(testServiceUUID))
	if got := conn.Mode(); got != ModeGATT {
		t.Errorf("mode = %s, want GATT fallback", got)
	}
	if got := conn.State(); got != StateOpen {
		t.Errorf("state = %s, want Open", got)
	}
}

func TestConnectionSingleOutstandingWrite(t *testing.T) {
	central := newFakeCentral()
	central.mtu = 24 // chunk size 21, payload 20
	conn, _ := openConnection(t, central, DefaultConfig(testServiceUUID))

	central.mu.Lock()
	central.manualC2S = true
	baseline := len(central.writes)
	central.mu.Unlock()

	// 50 bytes → 3 chunks of payload ≤ 20.
	if err := conn.SendMessage(bytes.Repeat([]byte{0xAA}, 50)); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	countC2S := func() int {
		n := 0
		for _, w := range central.writeLog()[baseline:] {
			if w.char == CharClient2Server {
				n++
			}
		}
		return n
	}

	// Only the first chunk may be written until its completion arrives.
	deadline := time.Now().Add(time.Second)
	for countC2S() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := countC2S(); got != 1 {
		t.Fatalf("writes in flight = %d, want exactly 1", got)
	}

	// Release completions one at a time.
	for i := 1; i <= 2; i++ {
		conn.Deliver(EventWriteCompleted{Char: CharClient2Server})
		deadline = time.Now().Add(time.Second)
		for countC2S() < i+1 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if got := countC2S(); got != i+1 {
			t.Fatalf("after %d completions: writes = %d, want %d", i, got, i+1)
		}
	}

	// Verify chunk markers across the three writes.
	var c2s []fakeWrite
	for _, w := range central.writeLog()[baseline:] {
		if w.char == CharClient2Server {
			c2s = append(c2s, w)
		}
	}
	for i, w := range c2s {
		want := byte(MarkerMoreData)
		if i == len(c2s)-1 {
			want = MarkerLastChunk
		}
		if w.value[0] != want {
			t.Errorf("chunk %d marker = 0x%02x, want 0x%02x", i, w.value[0], want)
		}
	}
}

func TestConnectionShutdownSequence(t *testing.T) {
	central := newFakeCentral()
	conn, handler := openConnection(t, central, DefaultConfig(testServiceUUID))

	if err := conn.SendMessage(nil); err != nil {
		t.Fatalf("SendMessage(nil) failed: %v", err)
	}
	waitSignal(t, handler.disconnected, "peer disconnected")

	// Shutdown writes: the sentinel chunk, then the termination code.
	writes := central.writeLog()
	var sentinel, term bool
	for _, w := range writes {
		if w.char == CharClient2Server && bytes.Equal(w.value, []byte{MarkerLastChunk}) {
			sentinel = true
		}
		if w.char == CharState && bytes.Equal(w.value, []byte{StateTerminate}) {
			if !sentinel {
				t.Error("termination code written before sentinel chunk drained")
			}
			term = true
		}
	}
	if !sentinel {
		t.Error("sentinel chunk was never written")
	}
	if !term {
		t.Error("termination code was never written to State")
	}
	if conn.State() != StateClosed {
		t.Errorf("state = %s, want Closed", conn.State())
	}

	// Connections are single-use.
	if err := conn.SendMessage([]byte("late")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("send after close = %v, want ErrNotOpen", err)
	}
}

func TestConnectionInboundReassembly(t *testing.T) {
	central := newFakeCentral()
	conn, handler := openConnection(t, central, DefaultConfig(testServiceUUID))

	conn.Deliver(EventNotification{Char: CharServer2Client, Value: []byte{MarkerMoreData, 'h', 'e', 'l'}})
	conn.Deliver(EventNotification{Char: CharServer2Client, Value: []byte{MarkerLastChunk, 'l', 'o'}})

	if got := waitMessage(t, handler.messages); string(got) != "hello" {
		t.Errorf("message = %q, want %q", got, "hello")
	}

	// Peer chunk-level sentinel closes the link normally.
	conn.Deliver(EventNotification{Char: CharServer2Client, Value: []byte{MarkerLastChunk}})
	waitSignal(t, handler.disconnected, "peer disconnected")
}

func TestConnectionPeerTermination(t *testing.T) {
	central := newFakeCentral()
	conn, handler := openConnection(t, central, DefaultConfig(testServiceUUID))

	conn.Deliver(EventNotification{Char: CharState, Value: []byte{StateTerminate}})
	waitSignal(t, handler.terminated, "transport termination")
	if conn.State() != StateClosed {
		t.Errorf("state = %s, want Closed", conn.State())
	}
}

func TestConnectionBadChunkMarkerFatal(t *testing.T) {
	central := newFakeCentral()
	conn, handler := openConnection(t, central, DefaultConfig(testServiceUUID))

	conn.Deliver(EventNotification{Char: CharServer2Client, Value: []byte{0x7F, 1, 2}})
	err := waitError(t, handler.errs, "error")
	if !errors.Is(err, ErrInvalidChunkMarker) {
		t.Errorf("error = %v, want ErrInvalidChunkMarker", err)
	}
	if conn.State() != StateClosed {
		t.Errorf("state = %s, want Closed", conn.State())
	}
}

func TestConnectionSingleUse(t *testing.T) {
	central := newFakeCentral()
	conn, _ := openConnection(t, central, DefaultConfig(testServiceUUID))

	if err := conn.Connect(PeerCandidate{ID: "peer-2"}); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnectionCallbackAfterCloseSuppressed(t *testing.T) {
	central := newFakeCentral()
	conn, handler := openConnection(t, central, DefaultConfig(testServiceUUID))

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitSignal(t, handler.disconnected, "peer disconnected")

	// Late platform callbacks must be dropped, not acted upon.
	conn.Deliver(EventNotification{Char: CharServer2Client, Value: []byte{MarkerLastChunk, 'x'}})
	conn.Deliver(EventFailure{Op: "write", Err: errors.New("late failure")})

	select {
	case m := <-handler.messages:
		t.Errorf("message %q delivered after close", m)
	case err := <-handler.errs:
		t.Errorf("error %v delivered after close", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectionLostReportsError(t *testing.T) {
	central := newFakeCentral()
	conn, handler := openConnection(t, central, DefaultConfig(testServiceUUID))

	conn.Deliver(EventDisconnected{Reason: errors.New("supervision timeout")})
	err := waitError(t, handler.errs, "error")
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("error = %v, want ErrConnectionLost", err)
	}
	_ = conn
}

func TestConnectionRawWrite(t *testing.T) {
	central := newFakeCentral()
	conn, _ := openConnection(t, central, DefaultConfig(testServiceUUID))

	central.mu.Lock()
	baseline := len(central.writes)
	central.mu.Unlock()

	raw := []byte{MarkerLastChunk, 0xDE, 0xAD}
	if err := conn.Write(raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, w := range central.writeLog()[baseline:] {
			if w.char == CharClient2Server && bytes.Equal(w.value, raw) {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("raw write never reached the central")
}

func TestConnectionRawWriteTooLarge(t *testing.T) {
	central := newFakeCentral()
	central.mtu = 24 // attribute size 21
	conn, _ := openConnection(t, central, DefaultConfig(testServiceUUID))

	if err := conn.Write(bytes.Repeat([]byte{1}, 22)); !errors.Is(err, ErrChunkTooLarge) {
		t.Errorf("oversized raw write = %v, want ErrChunkTooLarge", err)
	}
}
