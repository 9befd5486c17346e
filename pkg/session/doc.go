// Package session implements the mdoc session cryptography engine.
//
// One Engine instance serves one session: it holds the local ephemeral
// key pair, computes the ECDH shared secret once the peer's ephemeral
// public key arrives, and derives the two direction keys (SKDevice,
// SKReader) from the shared secret and the session transcript:
//
//	salt     = SHA-256(tag24(SessionTranscriptBytes))
//	SKDevice = HKDF-SHA-256(Z, salt, "SKDevice", 32)
//	SKReader = HKDF-SHA-256(Z, salt, "SKReader", 32)
//
// Messages are protected with AES-256-GCM. The 12-byte nonce is four
// zero bytes, the 4-byte direction identifier (00000001 device→reader,
// 00000000 reader→device) and a 4-byte big-endian message counter that
// starts at 1 and increments after every use. Counters never reset;
// exhausting one is a fatal session error, not a silent wrap.
//
// The engine enforces its state machine loudly: encrypting, decrypting
// or deriving before the key-agreement inputs are complete is a
// contract violation returned as an error, never a silent default.
// Key material is private to the engine and zeroed by Destroy.
package session
