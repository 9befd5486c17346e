//go:build !linux

package bluez

import (
	"io"

	"github.com/mdoc-protocol/mdoc-go/pkg/transport"
)

// openL2CAPChannel reports L2CAP as unavailable off Linux; the
// connection falls back to the GATT path.
func openL2CAPChannel(address string, psm uint16) (io.ReadWriteCloser, error) {
	return nil, transport.ErrL2CAPNotSupported
}
