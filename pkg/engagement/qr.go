package engagement

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// QRPrefix is the URI scheme prefix of QR-carried engagements.
const QRPrefix = "mdoc:"

// QR parse errors.
var (
	// ErrInvalidQRPrefix indicates a QR payload without the mdoc:
	// scheme.
	ErrInvalidQRPrefix = errors.New("QR payload does not start with mdoc:")

	// ErrInvalidQREncoding indicates a QR payload whose body is not
	// valid unpadded base64url.
	ErrInvalidQREncoding = errors.New("QR payload is not valid base64url")
)

// FormatQR renders the engagement as an mdoc: URI for QR display.
func (d *DeviceEngagement) FormatQR() (string, error) {
	encoded, err := d.Encode()
	if err != nil {
		return "", err
	}
	return QRPrefix + base64.RawURLEncoding.EncodeToString(encoded), nil
}

// ParseQR decodes an mdoc: URI back into the engagement structure and
// its raw bytes. The raw bytes go into the session transcript verbatim
// so the reader never re-encodes them.
func ParseQR(payload string) (*DeviceEngagement, []byte, error) {
	body, ok := strings.CutPrefix(payload, QRPrefix)
	if !ok {
		return nil, nil, ErrInvalidQRPrefix
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidQREncoding, err)
	}

	d, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	return d, raw, nil
}
