package engagement

import (
	"crypto/ecdh"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/mdoc-protocol/mdoc-go/pkg/version"
	"github.com/mdoc-protocol/mdoc-go/pkg/wire"
)

// EngagementVersion is the structure version emitted in device
// engagements.
const EngagementVersion = version.Current

// CipherSuite1 identifies the only defined cipher suite: P-256 ECDH
// with AES-256-GCM session encryption.
const CipherSuite1 = 1

// Retrieval method identifiers.
const (
	// RetrievalTypeBLE is device retrieval over Bluetooth Low Energy.
	RetrievalTypeBLE = 2

	// RetrievalVersionBLE is the BLE retrieval method version.
	RetrievalVersionBLE = 1
)

// Engagement structure errors.
var (
	// ErrInvalidEngagement indicates engagement bytes that do not
	// parse as a supported DeviceEngagement.
	ErrInvalidEngagement = errors.New("invalid device engagement")

	// ErrNoBLEMethod indicates an engagement without a usable BLE
	// retrieval method.
	ErrNoBLEMethod = errors.New("no BLE retrieval method in engagement")
)

// Security carries the cipher suite and the holder's ephemeral public
// key as tag-24 wrapped COSE_Key bytes.
type Security struct {
	_               struct{} `cbor:",toarray"`
	CipherSuite     int
	EDeviceKeyBytes wire.TaggedBytes
}

// RetrievalMethod describes one way the reader can connect. The
// options layout depends on the method type.
type RetrievalMethod struct {
	_       struct{} `cbor:",toarray"`
	Type    uint
	Version uint
	Options cbor.RawMessage
}

// BLEOptions are the connection parameters of a BLE retrieval method.
// The holder acts as GATT server (peripheral) or GATT client
// (central); each supported mode carries its service UUID.
type BLEOptions struct {
	SupportsPeripheralServer bool   `cbor:"0,keyasint"`
	SupportsCentralClient    bool   `cbor:"1,keyasint"`
	PeripheralServerUUID     []byte `cbor:"10,keyasint,omitempty"`
	CentralClientUUID        []byte `cbor:"11,keyasint,omitempty"`
	PeripheralDeviceAddress  []byte `cbor:"20,keyasint,omitempty"`
}

// DeviceEngagement is the structure the holder publishes out of band
// to start a presentation session.
type DeviceEngagement struct {
	Version          string            `cbor:"0,keyasint"`
	Security         Security          `cbor:"1,keyasint"`
	RetrievalMethods []RetrievalMethod `cbor:"2,keyasint,omitempty"`
}

// New builds a device engagement for the given ephemeral public key
// and retrieval methods.
func New(eDeviceKey *ecdh.PublicKey, methods ...RetrievalMethod) (*DeviceEngagement, error) {
	keyBytes, err := EncodeCOSEKey(eDeviceKey)
	if err != nil {
		return nil, err
	}

	return &DeviceEngagement{
		Version: EngagementVersion,
		Security: Security{
			CipherSuite:     CipherSuite1,
			EDeviceKeyBytes: wire.TaggedBytes(keyBytes),
		},
		RetrievalMethods: methods,
	}, nil
}

// NewBLEMethod builds a BLE retrieval method for a holder acting as
// GATT server under the given service UUID.
func NewBLEMethod(serviceUUID uuid.UUID) (RetrievalMethod, error) {
	opts, err := wire.Marshal(BLEOptions{
		SupportsPeripheralServer: true,
		PeripheralServerUUID:     serviceUUID[:],
	})
	if err != nil {
		return RetrievalMethod{}, fmt.Errorf("failed to encode BLE options: %w", err)
	}

	return RetrievalMethod{
		Type:    RetrievalTypeBLE,
		Version: RetrievalVersionBLE,
		Options: opts,
	}, nil
}

// Encode serializes the engagement as canonical CBOR. The result is
// what gets QR-encoded and what enters the session transcript.
func (d *DeviceEngagement) Encode() ([]byte, error) {
	return wire.Marshal(d)
}

// Decode parses device engagement bytes.
func Decode(data []byte) (*DeviceEngagement, error) {
	var d DeviceEngagement
	if err := wire.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEngagement, err)
	}
	if !version.CompatibleWithCurrent(d.Version) {
		return nil, fmt.Errorf("%w: version %q", ErrInvalidEngagement, d.Version)
	}
	if d.Security.CipherSuite != CipherSuite1 {
		return nil, fmt.Errorf("%w: cipher suite %d", ErrInvalidEngagement, d.Security.CipherSuite)
	}
	return &d, nil
}

// EDeviceKey extracts the holder's ephemeral public key.
func (d *DeviceEngagement) EDeviceKey() (*ecdh.PublicKey, error) {
	return DecodeCOSEKey([]byte(d.Security.EDeviceKeyBytes))
}

// BLEServiceUUID walks the retrieval methods and returns the service
// UUID of the first peripheral-server BLE entry.
func (d *DeviceEngagement) BLEServiceUUID() (uuid.UUID, error) {
	for _, m := range d.RetrievalMethods {
		if m.Type != RetrievalTypeBLE {
			continue
		}
		var opts BLEOptions
		if err := wire.Unmarshal(m.Options, &opts); err != nil {
			return uuid.Nil, fmt.Errorf("%w: bad BLE options: %v", ErrInvalidEngagement, err)
		}
		if !opts.SupportsPeripheralServer || len(opts.PeripheralServerUUID) != 16 {
			continue
		}
		id, err := uuid.FromBytes(opts.PeripheralServerUUID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: bad service UUID: %v", ErrInvalidEngagement, err)
		}
		return id, nil
	}
	return uuid.Nil, ErrNoBLEMethod
}
