package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Tag24 is the CBOR tag for "encoded CBOR data item" (RFC 8949 §3.4.5.1).
// The mdoc session layer wraps nested structures (device engagement,
// COSE keys, the session transcript) in tag 24 byte strings so their
// exact encoding is preserved for hashing.
const Tag24 = 24

// ErrNotTag24 indicates bytes that should carry CBOR tag 24 do not.
var ErrNotTag24 = errors.New("not a tag 24 encoded CBOR data item")

// TaggedBytes is a byte string wrapped in CBOR tag 24 on the wire.
// The value holds the inner (unwrapped) bytes; marshalling adds the
// tag, unmarshalling strips and validates it.
type TaggedBytes []byte

// MarshalCBOR encodes the bytes wrapped in tag 24.
func (t TaggedBytes) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(cbor.Tag{Number: Tag24, Content: []byte(t)})
}

// UnmarshalCBOR decodes a tag 24 byte string, rejecting untagged or
// differently tagged input.
func (t *TaggedBytes) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("%w: %v", ErrNotTag24, err)
	}
	if tag.Number != Tag24 {
		return fmt.Errorf("%w: got tag %d", ErrNotTag24, tag.Number)
	}
	inner, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("%w: tag content is %T, not a byte string", ErrNotTag24, tag.Content)
	}
	*t = TaggedBytes(inner)
	return nil
}

// EncodeTag24 wraps already-encoded CBOR bytes in a tag 24 byte string.
// This is the form hashed into the session transcript salt.
func EncodeTag24(encoded []byte) ([]byte, error) {
	return TaggedBytes(encoded).MarshalCBOR()
}

// DecodeTag24 returns the inner bytes of a tag 24 byte string.
func DecodeTag24(data []byte) ([]byte, error) {
	var t TaggedBytes
	if err := t.UnmarshalCBOR(data); err != nil {
		return nil, err
	}
	return []byte(t), nil
}
