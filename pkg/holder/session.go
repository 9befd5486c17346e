package holder

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mdoc-protocol/mdoc-go/pkg/engagement"
	"github.com/mdoc-protocol/mdoc-go/pkg/log"
	"github.com/mdoc-protocol/mdoc-go/pkg/session"
	"github.com/mdoc-protocol/mdoc-go/pkg/transport"
	"github.com/mdoc-protocol/mdoc-go/pkg/wire"
)

// Session errors.
var (
	// ErrNoLink indicates an operation before a link was attached.
	ErrNoLink = errors.New("no link attached to session")

	// ErrSessionEnded indicates an operation on a finished session.
	ErrSessionEnded = errors.New("session has ended")

	// ErrPeerError indicates the peer reported a session error status.
	ErrPeerError = errors.New("peer reported session error")
)

// RequestHandler processes one decrypted reader request and returns
// the response plaintext. Returning an error terminates the session
// gracefully (status 20).
type RequestHandler func(request []byte) ([]byte, error)

// Config configures a holder session.
type Config struct {
	// Handler processes decrypted requests. Required.
	Handler RequestHandler

	// OnEnd is invoked exactly once when the session finishes. A nil
	// error means graceful termination; ErrPeerError wraps are peer
	// reported failures. Optional.
	OnEnd func(err error)

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// Session is one device-side presentation session. It owns the
// ephemeral key pair and the session engine; both are single use.
// Session implements transport.LinkHandler.
type Session struct {
	engine          *session.Engine
	de              *engagement.DeviceEngagement
	engagementBytes []byte
	keyBytes        []byte
	handover        engagement.Handover

	handler RequestHandler
	onEnd   func(err error)
	logger  log.Logger

	mu          sync.Mutex
	link        transport.Link
	established bool
	ended       bool
}

var _ transport.LinkHandler = (*Session)(nil)

// NewSession generates a fresh ephemeral key pair and builds the
// device engagement for the given retrieval methods. QR handover is
// assumed; the engagement is published by the caller.
func NewSession(cfg Config, methods ...engagement.RetrievalMethod) (*Session, error) {
	private, err := session.GenerateEphemeralKey()
	if err != nil {
		return nil, err
	}

	de, err := engagement.New(private.PublicKey(), methods...)
	if err != nil {
		return nil, err
	}
	encoded, err := de.Encode()
	if err != nil {
		return nil, err
	}

	return &Session{
		engine:          session.NewEngine(session.RoleDevice, private),
		de:              de,
		engagementBytes: encoded,
		keyBytes:        []byte(de.Security.EDeviceKeyBytes),
		handover:        engagement.QRHandover{},
		handler:         cfg.Handler,
		onEnd:           cfg.OnEnd,
		logger:          log.OrNoop(cfg.Logger),
	}, nil
}

// Engagement returns the published device engagement.
func (s *Session) Engagement() *engagement.DeviceEngagement {
	return s.de
}

// QR renders the engagement as an mdoc: URI.
func (s *Session) QR() (string, error) {
	return s.de.FormatQR()
}

// EDeviceKeyBytes returns the encoded ephemeral public key, the input
// for BLE Ident derivation.
func (s *Session) EDeviceKeyBytes() []byte {
	return s.keyBytes
}

// Attach binds the transport link the reader connected through. Must
// be called before the first message arrives.
func (s *Session) Attach(link transport.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link = link
}

// Terminate ends the session gracefully: status 20 to the peer, then
// the transport shutdown sentinel.
func (s *Session) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endLocked(wire.StatusSessionTermination, nil)
}

// OnPeerConnected implements transport.LinkHandler.
func (s *Session) OnPeerConnected() {
	s.logEvent(log.CategoryState, "reader connected, awaiting session establishment")
}

// OnMessageReceived implements transport.LinkHandler. The first
// message must be a SessionEstablishment; everything after is
// SessionData.
func (s *Session) OnMessageReceived(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}

	if !s.established {
		s.handleEstablishment(msg)
		return
	}
	s.handleSessionData(msg)
}

// OnPeerDisconnected implements transport.LinkHandler.
func (s *Session) OnPeerDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(nil)
}

// OnTransportTermination implements transport.LinkHandler.
func (s *Session) OnTransportTermination() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logEvent(log.CategoryState, "peer signaled transport termination")
	s.finishLocked(nil)
}

// OnError implements transport.LinkHandler.
func (s *Session) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(err)
}

// handleEstablishment completes the key agreement from the reader's
// first message and serves the request it carries.
func (s *Session) handleEstablishment(msg []byte) {
	se, err := wire.DecodeSessionEstablishment(msg)
	if err != nil {
		s.logError(fmt.Errorf("session establishment decode failed: %w", err))
		_ = s.endLocked(wire.StatusErrorCBORDecoding, err)
		return
	}

	eReaderKeyBytes := []byte(se.EReaderKey)
	readerKey, err := engagement.DecodeCOSEKey(eReaderKeyBytes)
	if err != nil {
		s.logError(fmt.Errorf("reader key decode failed: %w", err))
		_ = s.endLocked(wire.StatusErrorCBORDecoding, err)
		return
	}

	if err := s.engine.SetPeerKey(readerKey); err != nil {
		s.finishLocked(err)
		return
	}
	transcript, err := engagement.SessionTranscript(s.engagementBytes, eReaderKeyBytes, s.handover)
	if err != nil {
		s.finishLocked(err)
		return
	}
	if err := s.engine.SetSessionTranscript(transcript); err != nil {
		s.finishLocked(err)
		return
	}

	s.logEvent(log.CategoryCrypto, "session keys established")
	s.established = true

	s.serveRequest(se.Data)
}

// handleSessionData processes one post-establishment envelope.
func (s *Session) handleSessionData(msg []byte) {
	sd, err := wire.DecodeSessionData(msg)
	if err != nil {
		s.logError(fmt.Errorf("session data decode failed: %w", err))
		_ = s.endLocked(wire.StatusErrorCBORDecoding, err)
		return
	}

	if sd.Status != nil {
		s.handleStatus(*sd.Status)
		return
	}
	s.serveRequest(sd.Data)
}

// handleStatus reacts to a peer status code: close the link without a
// response, reporting an error for the error codes.
func (s *Session) handleStatus(status uint) {
	s.logEvent(log.CategoryState, fmt.Sprintf("peer sent status %d", status))

	var err error
	if status != wire.StatusSessionTermination {
		err = fmt.Errorf("%w: status %d", ErrPeerError, status)
	}

	if s.link != nil {
		_ = s.link.SendMessage(nil)
	}
	s.finishLocked(err)
}

// serveRequest decrypts one request, invokes the application handler
// and sends the encrypted response.
func (s *Session) serveRequest(ciphertext []byte) {
	plaintext, err := s.engine.Decrypt(ciphertext)
	if err != nil {
		s.logError(fmt.Errorf("request decryption failed: %w", err))
		_ = s.endLocked(wire.StatusSessionEncryptionError, err)
		return
	}

	response, err := s.handler(plaintext)
	if err != nil {
		s.logEvent(log.CategoryState, fmt.Sprintf("handler requested termination: %v", err))
		_ = s.endLocked(wire.StatusSessionTermination, nil)
		return
	}

	encrypted, err := s.engine.Encrypt(response)
	if err != nil {
		s.finishLocked(err)
		return
	}
	envelope, err := wire.EncodeSessionData(&wire.SessionData{Data: encrypted})
	if err != nil {
		s.finishLocked(err)
		return
	}

	if s.link == nil {
		s.finishLocked(ErrNoLink)
		return
	}
	if err := s.link.SendMessage(envelope); err != nil {
		s.finishLocked(err)
		return
	}
	s.logEvent(log.CategoryData, fmt.Sprintf("sent encrypted response of %d bytes", len(response)))
}

// endLocked sends a final status message, shuts the link down and
// finishes the session. Callers hold the mutex.
func (s *Session) endLocked(status uint, cause error) error {
	if s.ended {
		return ErrSessionEnded
	}

	if s.link != nil {
		if msg, err := wire.StatusMessage(status); err == nil {
			_ = s.link.SendMessage(msg)
		}
		_ = s.link.SendMessage(nil)
	}

	s.finishLocked(cause)
	return nil
}

// finishLocked marks the session ended and fires OnEnd exactly once.
// Callers hold the mutex.
func (s *Session) finishLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.engine.Destroy()

	if err != nil {
		s.logError(err)
	} else {
		s.logEvent(log.CategoryState, "session ended")
	}
	if s.onEnd != nil {
		s.onEnd(err)
	}
}

func (s *Session) logEvent(cat log.Category, msg string) {
	s.logger.Log(log.NewEvent("", log.DirectionInternal, log.LayerSession, cat, msg))
}

func (s *Session) logError(err error) {
	event := log.NewEvent("", log.DirectionInternal, log.LayerSession, log.CategoryError, err.Error())
	event.Error = &log.ErrorEventData{Message: err.Error()}
	s.logger.Log(event)
}
