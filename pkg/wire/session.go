package wire

import (
	"errors"
	"fmt"
)

// Session layer status codes (ISO/IEC 18013-5 table 20).
const (
	// StatusSessionEncryptionError signals the peer failed to decrypt
	// a session data message. The session must be aborted.
	StatusSessionEncryptionError uint = 10

	// StatusErrorCBORDecoding signals the peer could not decode a
	// received session envelope. The session must be aborted.
	StatusErrorCBORDecoding uint = 11

	// StatusSessionTermination signals normal end of the session.
	StatusSessionTermination uint = 20
)

// Session envelope errors.
var (
	// ErrMissingReaderKey indicates a session establishment without
	// the reader's ephemeral key.
	ErrMissingReaderKey = errors.New("session establishment missing reader key")

	// ErrEmptyEnvelope indicates a session data message carrying
	// neither data nor a status code.
	ErrEmptyEnvelope = errors.New("session data carries neither data nor status")
)

// SessionEstablishment is the first message from the reader. It carries
// the reader's ephemeral public key (tag 24 wrapped COSE_Key bytes) and
// the first encrypted request.
type SessionEstablishment struct {
	EReaderKey TaggedBytes `cbor:"eReaderKey"`
	Data       []byte      `cbor:"data"`
}

// SessionData carries every subsequent message in either direction.
// Data holds ciphertext; Status, when present, carries a termination
// or error code. A message may carry either or both.
type SessionData struct {
	Data   []byte `cbor:"data,omitempty"`
	Status *uint  `cbor:"status,omitempty"`
}

// EncodeSessionEstablishment encodes a session establishment envelope.
func EncodeSessionEstablishment(se *SessionEstablishment) ([]byte, error) {
	if len(se.EReaderKey) == 0 {
		return nil, ErrMissingReaderKey
	}
	return Marshal(se)
}

// DecodeSessionEstablishment decodes a session establishment envelope.
func DecodeSessionEstablishment(data []byte) (*SessionEstablishment, error) {
	var se SessionEstablishment
	if err := Unmarshal(data, &se); err != nil {
		return nil, fmt.Errorf("failed to decode session establishment: %w", err)
	}
	if len(se.EReaderKey) == 0 {
		return nil, ErrMissingReaderKey
	}
	return &se, nil
}

// EncodeSessionData encodes a session data envelope.
func EncodeSessionData(sd *SessionData) ([]byte, error) {
	if len(sd.Data) == 0 && sd.Status == nil {
		return nil, ErrEmptyEnvelope
	}
	return Marshal(sd)
}

// DecodeSessionData decodes a session data envelope.
func DecodeSessionData(data []byte) (*SessionData, error) {
	var sd SessionData
	if err := Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	if len(sd.Data) == 0 && sd.Status == nil {
		return nil, ErrEmptyEnvelope
	}
	return &sd, nil
}

// StatusMessage builds an encoded SessionData carrying only a status code.
func StatusMessage(status uint) ([]byte, error) {
	s := status
	return Marshal(&SessionData{Status: &s})
}
