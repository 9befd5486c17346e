package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/hkdf"

	"github.com/mdoc-protocol/mdoc-go/pkg/wire"
)

// Key derivation constants.
const (
	// KeyLength is the AES-256 key length.
	KeyLength = 32

	// NonceLength is the AES-GCM nonce length.
	NonceLength = 12

	infoDevice = "SKDevice"
	infoReader = "SKReader"
)

// Direction identifiers placed in nonce bytes 4..8.
var (
	identifierDevice = [4]byte{0x00, 0x00, 0x00, 0x01}
	identifierReader = [4]byte{0x00, 0x00, 0x00, 0x00}
)

// Engine errors.
var (
	// ErrMissingPeerKey indicates key agreement was attempted before
	// the peer's ephemeral public key arrived.
	ErrMissingPeerKey = errors.New("peer ephemeral key not set")

	// ErrTranscriptNotSet indicates key derivation was attempted
	// before the session transcript was fixed.
	ErrTranscriptNotSet = errors.New("session transcript not set")

	// ErrTranscriptAlreadySet indicates an attempt to change the
	// immutable session transcript.
	ErrTranscriptAlreadySet = errors.New("session transcript already set")

	// ErrPeerKeyAlreadySet indicates an attempt to replace the peer
	// key mid-session.
	ErrPeerKeyAlreadySet = errors.New("peer ephemeral key already set")

	// ErrKeysNotDerived indicates a cipher operation before the
	// engine reached the KeysDerived state.
	ErrKeysNotDerived = errors.New("session keys not derived")

	// ErrDecryptionFailed indicates AEAD authentication failure.
	// The session must be aborted; decryption is never retried.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrCounterExhausted indicates a message counter would wrap its
	// 32-bit field. The session is exhausted and must end.
	ErrCounterExhausted = errors.New("message counter exhausted")

	// ErrDestroyed indicates use of an engine after Destroy.
	ErrDestroyed = errors.New("engine destroyed")
)

// Role selects which direction key the engine encrypts with.
type Role uint8

const (
	// RoleDevice encrypts with SKDevice and decrypts with SKReader.
	RoleDevice Role = 0

	// RoleReader encrypts with SKReader and decrypts with SKDevice.
	// Used by the reader simulator and the end-to-end tests.
	RoleReader Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "DEVICE"
	case RoleReader:
		return "READER"
	default:
		return "UNKNOWN"
	}
}

// State is the engine state machine state.
type State uint8

const (
	// StateNoKeys is the initial state: no shared secret yet.
	StateNoKeys State = 0

	// StateSharedSecretComputed follows ECDH completion.
	StateSharedSecretComputed State = 1

	// StateKeysDerived is the operational state.
	StateKeysDerived State = 2
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNoKeys:
		return "NoKeys"
	case StateSharedSecretComputed:
		return "SharedSecretComputed"
	case StateKeysDerived:
		return "KeysDerived"
	default:
		return "Unknown"
	}
}

// directionKey is one direction's AEAD key with its message counter.
type directionKey struct {
	aead       cipher.AEAD
	identifier [4]byte
	counter    uint32
}

// nonce builds the next nonce and advances the counter. Counters are
// strictly increasing from 1 and must never repeat within a session.
func (k *directionKey) nonce() ([]byte, error) {
	if k.counter == math.MaxUint32 {
		return nil, ErrCounterExhausted
	}
	nonce := make([]byte, NonceLength)
	copy(nonce[4:8], k.identifier[:])
	binary.BigEndian.PutUint32(nonce[8:], k.counter)
	k.counter++
	return nonce, nil
}

// GenerateEphemeralKey generates a fresh P-256 ephemeral key pair for
// one session.
func GenerateEphemeralKey() (*ecdh.PrivateKey, error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	return key, nil
}

// Engine is the session cryptography engine for exactly one session.
// It is not safe for concurrent use; the presentation flow is
// strictly request/response. Engines are never reused or shared
// across sessions.
type Engine struct {
	role       Role
	private    *ecdh.PrivateKey
	peerPublic *ecdh.PublicKey

	sharedSecret []byte
	transcript   []byte

	deviceKey *directionKey
	readerKey *directionKey

	state     State
	destroyed bool
}

// NewEngine creates an engine holding the local ephemeral private key.
func NewEngine(role Role, private *ecdh.PrivateKey) *Engine {
	return &Engine{
		role:    role,
		private: private,
		state:   StateNoKeys,
	}
}

// Role returns the engine's role.
func (e *Engine) Role() Role { return e.role }

// State returns the engine state.
func (e *Engine) State() State { return e.state }

// PublicKey returns the local ephemeral public key for engagement.
func (e *Engine) PublicKey() *ecdh.PublicKey {
	return e.private.PublicKey()
}

// SetPeerKey installs the peer's ephemeral public key and computes the
// ECDH shared secret. The peer key is set exactly once per session.
func (e *Engine) SetPeerKey(peer *ecdh.PublicKey) error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.peerPublic != nil {
		return ErrPeerKeyAlreadySet
	}

	secret, err := e.private.ECDH(peer)
	if err != nil {
		return fmt.Errorf("ecdh failed: %w", err)
	}

	e.peerPublic = peer
	e.sharedSecret = secret
	e.state = StateSharedSecretComputed
	return nil
}

// SetSessionTranscript fixes the immutable session transcript bytes.
// Setting it twice is a contract violation.
func (e *Engine) SetSessionTranscript(transcript []byte) error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.transcript != nil {
		return ErrTranscriptAlreadySet
	}
	e.transcript = append([]byte(nil), transcript...)
	return nil
}

// DeriveKeys derives SKDevice and SKReader. Requires the shared
// secret and the transcript; both directions start their counters at 1.
// Keys are normally derived lazily by the first cipher operation, but
// callers may derive eagerly to surface input errors early.
func (e *Engine) DeriveKeys() error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.state == StateKeysDerived {
		return nil
	}
	if e.state == StateNoKeys {
		return ErrMissingPeerKey
	}
	if e.transcript == nil {
		return ErrTranscriptNotSet
	}

	skDevice, skReader, err := DeriveSessionKeys(e.sharedSecret, e.transcript)
	if err != nil {
		return err
	}
	defer zeroize(skDevice)
	defer zeroize(skReader)

	deviceKey, err := newDirectionKey(skDevice, identifierDevice)
	if err != nil {
		return fmt.Errorf("failed to build %s key: %w", infoDevice, err)
	}
	readerKey, err := newDirectionKey(skReader, identifierReader)
	if err != nil {
		return fmt.Errorf("failed to build %s key: %w", infoReader, err)
	}

	e.deviceKey = deviceKey
	e.readerKey = readerKey
	e.state = StateKeysDerived
	return nil
}

// DeriveSessionKeys derives the raw 32-byte SKDevice and SKReader
// values from the ECDH shared secret and the (untagged) session
// transcript bytes. Deterministic: identical inputs always produce
// identical keys.
func DeriveSessionKeys(sharedSecret, transcript []byte) (skDevice, skReader []byte, err error) {
	tagged, err := wire.EncodeTag24(transcript)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to tag transcript: %w", err)
	}
	salt := sha256.Sum256(tagged)

	skDevice = make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, salt[:], []byte(infoDevice)), skDevice); err != nil {
		return nil, nil, fmt.Errorf("hkdf failed for %s: %w", infoDevice, err)
	}
	skReader = make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, salt[:], []byte(infoReader)), skReader); err != nil {
		return nil, nil, fmt.Errorf("hkdf failed for %s: %w", infoReader, err)
	}
	return skDevice, skReader, nil
}

func newDirectionKey(raw []byte, identifier [4]byte) (*directionKey, error) {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &directionKey{aead: aead, identifier: identifier, counter: 1}, nil
}

// Encrypt seals a plaintext with the own-direction key and advances
// its counter. Returns ciphertext‖tag.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	key, err := e.ownKey()
	if err != nil {
		return nil, err
	}
	nonce, err := key.nonce()
	if err != nil {
		return nil, err
	}
	return key.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext with the peer-direction key and advances
// its counter. Authentication failure returns ErrDecryptionFailed and
// never partial data.
func (e *Engine) Decrypt(ciphertext []byte) ([]byte, error) {
	key, err := e.peerKey()
	if err != nil {
		return nil, err
	}
	nonce, err := key.nonce()
	if err != nil {
		return nil, err
	}
	plaintext, err := key.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// ownKey returns the encryption key for the engine's role, deriving
// keys lazily when the agreement inputs are complete.
func (e *Engine) ownKey() (*directionKey, error) {
	if err := e.ensureKeys(); err != nil {
		return nil, err
	}
	if e.role == RoleDevice {
		return e.deviceKey, nil
	}
	return e.readerKey, nil
}

func (e *Engine) peerKey() (*directionKey, error) {
	if err := e.ensureKeys(); err != nil {
		return nil, err
	}
	if e.role == RoleDevice {
		return e.readerKey, nil
	}
	return e.deviceKey, nil
}

func (e *Engine) ensureKeys() error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.state == StateKeysDerived {
		return nil
	}
	if err := e.DeriveKeys(); err != nil {
		return fmt.Errorf("%w: %v", ErrKeysNotDerived, err)
	}
	return nil
}

// DeviceCounter returns the SKDevice message counter. Test hook.
func (e *Engine) DeviceCounter() uint32 {
	if e.deviceKey == nil {
		return 0
	}
	return e.deviceKey.counter
}

// ReaderCounter returns the SKReader message counter. Test hook.
func (e *Engine) ReaderCounter() uint32 {
	if e.readerKey == nil {
		return 0
	}
	return e.readerKey.counter
}

// Destroy zeroes key material and renders the engine unusable.
// The session ends when its engine is destroyed.
func (e *Engine) Destroy() {
	zeroize(e.sharedSecret)
	e.sharedSecret = nil
	e.deviceKey = nil
	e.readerKey = nil
	e.private = nil
	e.peerPublic = nil
	e.transcript = nil
	e.destroyed = true
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
