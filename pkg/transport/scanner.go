package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdoc-protocol/mdoc-go/pkg/log"
)

// ScanEvent is a scanning lifecycle event.
type ScanEvent uint8

const (
	// EventScanningStarted fires when the scan window opens.
	EventScanningStarted ScanEvent = 0
	// EventDeviceSelected fires when a candidate is selected.
	EventDeviceSelected ScanEvent = 1
	// EventNoDeviceFound fires when the window ends without a match.
	EventNoDeviceFound ScanEvent = 2
	// EventScanError fires on a platform scan error. The scan window
	// continues.
	EventScanError ScanEvent = 3
)

// String returns the scan event name.
func (e ScanEvent) String() string {
	switch e {
	case EventScanningStarted:
		return "scanning-started"
	case EventDeviceSelected:
		return "device-selected"
	case EventNoDeviceFound:
		return "no-device-found"
	case EventScanError:
		return "error"
	default:
		return "unknown"
	}
}

// ScanListener receives scanning lifecycle events. Candidate is set
// for EventDeviceSelected, Err for EventScanError.
type ScanListener interface {
	OnScanEvent(event ScanEvent, candidate *PeerCandidate, err error)
}

// Scanner discovers peers advertising the expected mdoc service and
// selects the strongest one.
type Scanner struct {
	central  Central
	listener ScanListener
	logger   log.Logger
}

// NewScanner creates a scanner on the given central. The listener may
// be nil.
func NewScanner(central Central, listener ScanListener, logger log.Logger) *Scanner {
	return &Scanner{
		central:  central,
		listener: listener,
		logger:   log.OrNoop(logger),
	}
}

// Scan runs one timed discovery window and returns the candidate with
// the strongest signal, or ErrNoDeviceFound when no advertisement
// matched the service UUID. Ties are broken by scan order: the most
// recently seen candidate wins.
//
// Advertisements are deduplicated by peer identity; a repeated
// advertisement updates the stored RSSI and last-seen time. The
// window ends when the duration elapses or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, serviceID uuid.UUID, duration time.Duration) (*PeerCandidate, error) {
	var mu sync.Mutex
	seen := make(map[string]*PeerCandidate)

	err := s.central.StartScan(func(adv Advertisement) {
		if !advertisesService(adv, serviceID) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		seen[adv.PeerID] = &PeerCandidate{
			ID:        adv.PeerID,
			RSSI:      adv.RSSI,
			ServiceID: serviceID,
			LastSeen:  time.Now(),
		}
	}, func(scanErr error) {
		// Mid-window platform errors are reported but do not end the
		// window; candidates collected so far remain valid.
		s.emit(EventScanError, nil, scanErr)
	})
	if err != nil {
		s.emit(EventScanError, nil, err)
		return nil, err
	}
	s.emit(EventScanningStarted, nil, nil)

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := s.central.StopScan(); err != nil {
		// Stop failures do not invalidate the collected candidates.
		s.logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionInternal,
			Layer:     log.LayerLink,
			Category:  log.CategoryWarning,
			Message:   "failed to stop scan",
			Error:     &log.ErrorEventData{Message: err.Error(), Context: "stop-scan"},
		})
		s.emit(EventScanError, nil, err)
	}

	if ctx.Err() != nil && len(seen) == 0 {
		return nil, ctx.Err()
	}

	mu.Lock()
	best := selectStrongest(seen)
	mu.Unlock()

	if best == nil {
		s.emit(EventNoDeviceFound, nil, nil)
		return nil, ErrNoDeviceFound
	}

	s.emit(EventDeviceSelected, best, nil)
	return best, nil
}

// selectStrongest picks the candidate with the highest RSSI. Ties go
// to the most recently seen candidate.
func selectStrongest(seen map[string]*PeerCandidate) *PeerCandidate {
	var best *PeerCandidate
	for _, c := range seen {
		switch {
		case best == nil:
			best = c
		case c.RSSI > best.RSSI:
			best = c
		case c.RSSI == best.RSSI && c.LastSeen.After(best.LastSeen):
			best = c
		}
	}
	return best
}

func advertisesService(adv Advertisement, serviceID uuid.UUID) bool {
	for _, id := range adv.ServiceUUIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

func (s *Scanner) emit(event ScanEvent, candidate *PeerCandidate, err error) {
	ev := log.NewEvent("", log.DirectionInternal, log.LayerLink, log.CategoryState, "scan "+event.String())
	if err != nil {
		ev.Category = log.CategoryError
		ev.Error = &log.ErrorEventData{Message: err.Error(), Context: "scan"}
	}
	if candidate != nil {
		ev.PeerID = candidate.ID
	}
	s.logger.Log(ev)

	if s.listener != nil {
		s.listener.OnScanEvent(event, candidate, err)
	}
}
