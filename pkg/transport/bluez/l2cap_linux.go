//go:build linux

package bluez

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// openL2CAPChannel opens a connection-oriented L2CAP channel to the
// peer. SOCK_SEQPACKET preserves message boundaries, so one socket
// read yields one complete SDU.
func openL2CAPChannel(address string, psm uint16) (io.ReadWriteCloser, error) {
	addr, err := parseBluetoothAddress(address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, fmt.Errorf("bluez: failed to create l2cap socket: %w", err)
	}

	sa := &unix.SockaddrL2{
		PSM:      psm,
		Addr:     addr,
		AddrType: unix.BDADDR_LE_PUBLIC,
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bluez: l2cap connect to %s psm %d failed: %w", address, psm, err)
	}

	return os.NewFile(uintptr(fd), "l2cap"), nil
}

// parseBluetoothAddress converts "AA:BB:CC:DD:EE:FF" to the
// little-endian byte order the kernel sockaddr expects.
func parseBluetoothAddress(address string) ([6]byte, error) {
	var addr [6]byte
	parts := strings.Split(address, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("bluez: invalid bluetooth address %q", address)
	}
	for i, part := range parts {
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("bluez: invalid bluetooth address %q: %w", address, err)
		}
		addr[5-i] = byte(b)
	}
	return addr, nil
}
