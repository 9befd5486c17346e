package sim

import (
	"fmt"
	"net"
)

// Listener accepts simulated links on a TCP address. The holder
// listens; readers dial after discovering the engagement.
type Listener struct {
	ln net.Listener
}

// Listen starts listening on addr ("host:port", ":0" for an ephemeral
// port).
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Accept waits for one incoming connection and completes the link
// setup with the given configuration.
func (l *Listener) Accept(cfg Config) (*Link, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept failed: %w", err)
	}
	return newLink(conn, cfg)
}

// Close stops accepting connections. Established links are not
// affected.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial connects to a listening peer and completes the link setup.
func Dial(addr string, cfg Config) (*Link, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return newLink(conn, cfg)
}
