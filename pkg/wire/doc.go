// Package wire provides the CBOR wire codec for the mdoc session layer.
//
// All structures exchanged between the mdoc and the reader are CBOR
// encoded. The encoder is configured for deterministic (canonical)
// output because session-transcript bytes and COSE to-be-signed bytes
// must hash identically on both sides of the link.
//
// The package owns:
//   - the shared canonical encoder/decoder modes (Marshal/Unmarshal)
//   - tag 24 "encoded CBOR data item" byte-string handling (TaggedBytes)
//   - the session establishment and session data envelopes with their
//     status codes
//
// Application payloads carried inside the envelopes are opaque to this
// package.
package wire
