package engagement

import (
	"fmt"

	"github.com/mdoc-protocol/mdoc-go/pkg/wire"
)

// Handover records how engagement was delivered. Its CBOR form enters
// the session transcript.
type Handover interface {
	handoverValue() any
}

// QRHandover marks QR-code engagement delivery. Encodes as CBOR null.
type QRHandover struct{}

func (QRHandover) handoverValue() any { return nil }

// NFCHandover marks NFC engagement delivery and carries the handover
// select and request messages.
type NFCHandover struct {
	SelectBytes  []byte
	RequestBytes []byte // nil for static handover
}

func (h NFCHandover) handoverValue() any {
	return []any{h.SelectBytes, h.RequestBytes}
}

// SessionTranscript assembles the canonical transcript from the device
// engagement bytes, the reader's ephemeral key bytes (COSE_Key
// encoding) and the handover record. Both peers must call this with
// byte-identical inputs; the result seeds session key derivation.
func SessionTranscript(deviceEngagementBytes, eReaderKeyBytes []byte, handover Handover) ([]byte, error) {
	transcript := []any{
		wire.TaggedBytes(deviceEngagementBytes),
		wire.TaggedBytes(eReaderKeyBytes),
		handover.handoverValue(),
	}

	encoded, err := wire.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	return encoded, nil
}
