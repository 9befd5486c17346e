package holder

import (
	"fmt"

	"github.com/mdoc-protocol/mdoc-go/pkg/engagement"
	"github.com/mdoc-protocol/mdoc-go/pkg/session"
	"github.com/mdoc-protocol/mdoc-go/pkg/wire"
)

// ReaderSession is the reader-side counterpart used by simulators and
// tests. It consumes a QR engagement, performs the reader half of the
// key agreement and produces the session envelopes the holder expects.
type ReaderSession struct {
	engine          *session.Engine
	de              *engagement.DeviceEngagement
	eReaderKeyBytes []byte
}

// NewReaderSession parses a QR engagement payload, generates the
// reader's ephemeral key pair and completes the key agreement.
func NewReaderSession(qrPayload string) (*ReaderSession, error) {
	de, deBytes, err := engagement.ParseQR(qrPayload)
	if err != nil {
		return nil, err
	}
	deviceKey, err := de.EDeviceKey()
	if err != nil {
		return nil, err
	}

	private, err := session.GenerateEphemeralKey()
	if err != nil {
		return nil, err
	}
	keyBytes, err := engagement.EncodeCOSEKey(private.PublicKey())
	if err != nil {
		return nil, err
	}

	engine := session.NewEngine(session.RoleReader, private)
	if err := engine.SetPeerKey(deviceKey); err != nil {
		return nil, err
	}

	transcript, err := engagement.SessionTranscript(deBytes, keyBytes, engagement.QRHandover{})
	if err != nil {
		return nil, err
	}
	if err := engine.SetSessionTranscript(transcript); err != nil {
		return nil, err
	}

	return &ReaderSession{
		engine:          engine,
		de:              de,
		eReaderKeyBytes: keyBytes,
	}, nil
}

// Engagement returns the parsed device engagement.
func (r *ReaderSession) Engagement() *engagement.DeviceEngagement {
	return r.de
}

// BuildEstablishment encrypts the first request and wraps it in a
// SessionEstablishment envelope.
func (r *ReaderSession) BuildEstablishment(request []byte) ([]byte, error) {
	ciphertext, err := r.engine.Encrypt(request)
	if err != nil {
		return nil, err
	}
	return wire.EncodeSessionEstablishment(&wire.SessionEstablishment{
		EReaderKey: wire.TaggedBytes(r.eReaderKeyBytes),
		Data:       ciphertext,
	})
}

// BuildRequest encrypts a follow-up request into a SessionData
// envelope.
func (r *ReaderSession) BuildRequest(request []byte) ([]byte, error) {
	ciphertext, err := r.engine.Encrypt(request)
	if err != nil {
		return nil, err
	}
	return wire.EncodeSessionData(&wire.SessionData{Data: ciphertext})
}

// TerminationMessage builds the graceful end-of-session envelope.
func (r *ReaderSession) TerminationMessage() ([]byte, error) {
	return wire.StatusMessage(wire.StatusSessionTermination)
}

// DecryptResponse decodes one holder envelope. The returned status is
// non-nil when the holder sent a status code; data is the decrypted
// response plaintext when present.
func (r *ReaderSession) DecryptResponse(envelope []byte) (data []byte, status *uint, err error) {
	sd, err := wire.DecodeSessionData(envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode session data: %w", err)
	}

	if len(sd.Data) > 0 {
		data, err = r.engine.Decrypt(sd.Data)
		if err != nil {
			return nil, sd.Status, err
		}
	}
	return data, sd.Status, nil
}

// Close destroys the reader's key material.
func (r *ReaderSession) Close() {
	r.engine.Destroy()
}
