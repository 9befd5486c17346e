package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// recordingScanListener collects scan lifecycle events.
type recordingScanListener struct {
	mu     sync.Mutex
	events []ScanEvent
}

func (l *recordingScanListener) OnScanEvent(event ScanEvent, _ *PeerCandidate, _ error) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *recordingScanListener) seen(event ScanEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func TestScannerSelectsStrongestCandidate(t *testing.T) {
	central := newFakeCentral()
	listener := &recordingScanListener{}
	scanner := NewScanner(central, listener, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		central.emitAdv(Advertisement{PeerID: "weak", RSSI: -80, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
		central.emitAdv(Advertisement{PeerID: "strong", RSSI: -40, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
		central.emitAdv(Advertisement{PeerID: "medium", RSSI: -60, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
	}()

	got, err := scanner.Scan(context.Background(), testServiceUUID, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got.ID != "strong" {
		t.Errorf("selected %q, want %q", got.ID, "strong")
	}
	if got.RSSI != -40 {
		t.Errorf("RSSI = %d, want -40", got.RSSI)
	}

	if !listener.seen(EventScanningStarted) {
		t.Error("scanning-started never emitted")
	}
	if !listener.seen(EventDeviceSelected) {
		t.Error("device-selected never emitted")
	}
}

func TestScannerFiltersByService(t *testing.T) {
	otherService := uuid.MustParse("00000000-0000-0000-0000-00000000BEEF")
	central := newFakeCentral()
	scanner := NewScanner(central, nil, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		central.emitAdv(Advertisement{PeerID: "wrong-service", RSSI: -10, ServiceUUIDs: []uuid.UUID{otherService}})
		central.emitAdv(Advertisement{PeerID: "no-services", RSSI: -10})
		central.emitAdv(Advertisement{PeerID: "match", RSSI: -90, ServiceUUIDs: []uuid.UUID{otherService, testServiceUUID}})
	}()

	got, err := scanner.Scan(context.Background(), testServiceUUID, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got.ID != "match" {
		t.Errorf("selected %q, want %q", got.ID, "match")
	}
}

func TestScannerDeduplicatesByIdentity(t *testing.T) {
	central := newFakeCentral()
	scanner := NewScanner(central, nil, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		// Same peer seen repeatedly: last report wins.
		central.emitAdv(Advertisement{PeerID: "peer", RSSI: -40, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
		central.emitAdv(Advertisement{PeerID: "peer", RSSI: -75, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
		central.emitAdv(Advertisement{PeerID: "other", RSSI: -70, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
	}()

	got, err := scanner.Scan(context.Background(), testServiceUUID, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	// "peer" was updated to −75, so "other" at −70 is now strongest.
	if got.ID != "other" {
		t.Errorf("selected %q, want %q", got.ID, "other")
	}
}

func TestScannerTieBreaksLastSeen(t *testing.T) {
	central := newFakeCentral()
	scanner := NewScanner(central, nil, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		central.emitAdv(Advertisement{PeerID: "first", RSSI: -50, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
		time.Sleep(5 * time.Millisecond)
		central.emitAdv(Advertisement{PeerID: "second", RSSI: -50, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
	}()

	got, err := scanner.Scan(context.Background(), testServiceUUID, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got.ID != "second" {
		t.Errorf("selected %q, want %q (tie goes to last seen)", got.ID, "second")
	}
}

func TestScannerNoDeviceFound(t *testing.T) {
	central := newFakeCentral()
	listener := &recordingScanListener{}
	scanner := NewScanner(central, listener, nil)

	_, err := scanner.Scan(context.Background(), testServiceUUID, 50*time.Millisecond)
	if !errors.Is(err, ErrNoDeviceFound) {
		t.Errorf("Scan = %v, want ErrNoDeviceFound", err)
	}
	if !listener.seen(EventNoDeviceFound) {
		t.Error("no-device-found never emitted")
	}
}

func TestScannerStartFailure(t *testing.T) {
	central := newFakeCentral()
	central.scanErr = errors.New("adapter powered off")
	listener := &recordingScanListener{}
	scanner := NewScanner(central, listener, nil)

	if _, err := scanner.Scan(context.Background(), testServiceUUID, 50*time.Millisecond); err == nil {
		t.Fatal("Scan should fail when the platform scan cannot start")
	}
	if !listener.seen(EventScanError) {
		t.Error("error event never emitted")
	}
}

func TestScannerMidWindowErrorNonFatal(t *testing.T) {
	central := newFakeCentral()
	listener := &recordingScanListener{}
	scanner := NewScanner(central, listener, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		// A platform hiccup mid-window is reported but does not end
		// the window; later advertisements still count.
		central.emitScanErr(errors.New("object manager unavailable"))
		central.emitAdv(Advertisement{PeerID: "peer", RSSI: -50, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
	}()

	got, err := scanner.Scan(context.Background(), testServiceUUID, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got.ID != "peer" {
		t.Errorf("selected %q, want %q", got.ID, "peer")
	}
	if !listener.seen(EventScanError) {
		t.Error("error event never emitted for mid-window failure")
	}
}

func TestScannerStopFailureNonFatal(t *testing.T) {
	central := newFakeCentral()
	central.stopScanErr = errors.New("already stopped")
	listener := &recordingScanListener{}
	scanner := NewScanner(central, listener, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		central.emitAdv(Advertisement{PeerID: "peer", RSSI: -50, ServiceUUIDs: []uuid.UUID{testServiceUUID}})
	}()

	got, err := scanner.Scan(context.Background(), testServiceUUID, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got.ID != "peer" {
		t.Errorf("selected %q, want %q", got.ID, "peer")
	}
	// The stop failure is reported as an event, not a scan failure.
	if !listener.seen(EventScanError) {
		t.Error("error event never emitted for stop failure")
	}
}

func TestScannerContextCancel(t *testing.T) {
	central := newFakeCentral()
	scanner := NewScanner(central, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := scanner.Scan(ctx, testServiceUUID, 5*time.Second)
	if err == nil {
		t.Fatal("Scan should fail on cancellation with no candidates")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Scan did not stop on cancellation (took %v)", elapsed)
	}
}
