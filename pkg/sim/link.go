package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mdoc-protocol/mdoc-go/pkg/log"
	"github.com/mdoc-protocol/mdoc-go/pkg/transport"
)

// minAttributeSize is the smallest usable attribute size: one marker
// byte plus one payload byte.
const minAttributeSize = 2

// maxFrameSize bounds incoming frame lengths. Anything larger is a
// protocol violation, not a legitimate chunk.
const maxFrameSize = transport.MaxChunkSize + 1

// ErrFrameTooLarge indicates an incoming frame above the chunk size
// limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum chunk size")

// Config configures one end of a simulated link.
type Config struct {
	// AttributeSize is the proposed chunk size (marker byte included).
	// The effective size is the minimum of both peers' proposals.
	// Default transport.MaxChunkSize.
	AttributeSize uint16

	// Handler receives link callbacks. Required.
	Handler transport.LinkHandler

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

func (c Config) withDefaults() Config {
	if c.AttributeSize < minAttributeSize {
		c.AttributeSize = transport.MaxChunkSize
	}
	return c
}

// outFrame is one queued wire frame. A shutdown frame closes the link
// after the termination linger delay once written.
type outFrame struct {
	data     []byte
	shutdown bool
}

// Link is one end of a simulated proximity link. Create via Dial or
// Listener.Accept.
type Link struct {
	conn     net.Conn
	handler  transport.LinkHandler
	logger   log.Logger
	connID   string
	attrSize int

	outbound chan outFrame

	done     chan struct{}
	doneOnce sync.Once
}

var _ transport.Link = (*Link)(nil)

// newLink negotiates the attribute size and starts the read and write
// loops. OnPeerConnected fires from the read loop before the first
// message.
func newLink(conn net.Conn, cfg Config) (*Link, error) {
	cfg = cfg.withDefaults()

	l := &Link{
		conn:     conn,
		handler:  cfg.Handler,
		logger:   log.OrNoop(cfg.Logger),
		connID:   conn.RemoteAddr().String(),
		outbound: make(chan outFrame, 64),
		done:     make(chan struct{}),
	}

	attrSize, err := l.negotiate(cfg.AttributeSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	l.attrSize = attrSize

	l.logEvent(log.CategoryState, fmt.Sprintf("link established, attribute size %d", attrSize))

	go l.writeLoop()
	go l.readLoop()
	return l, nil
}

// negotiate exchanges proposed attribute sizes and returns the
// effective minimum. Both sides write first, then read; the two-byte
// proposals fit every socket buffer, so there is no deadlock on TCP.
func (l *Link) negotiate(proposed uint16) (int, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], proposed)
	if _, err := l.conn.Write(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to send attribute size: %w", err)
	}
	if _, err := io.ReadFull(l.conn, buf[:]); err != nil {
		return 0, fmt.Errorf("failed to read peer attribute size: %w", err)
	}

	peer := binary.BigEndian.Uint16(buf[:])
	if peer < minAttributeSize {
		return 0, fmt.Errorf("peer proposed unusable attribute size %d", peer)
	}

	size := int(proposed)
	if int(peer) < size {
		size = int(peer)
	}
	if size > transport.MaxChunkSize {
		size = transport.MaxChunkSize
	}
	return size, nil
}

// AttributeSize returns the negotiated chunk size.
func (l *Link) AttributeSize() int {
	return l.attrSize
}

// SendMessage queues a message for transmission. A nil or empty
// message is the shutdown sentinel: once its chunk is on the wire the
// link lingers briefly and closes.
func (l *Link) SendMessage(msg []byte) error {
	if len(msg) == 0 {
		return l.enqueue(outFrame{data: []byte{transport.MarkerLastChunk}, shutdown: true})
	}

	chunks, err := transport.SplitMessage(msg, l.attrSize-1)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := l.enqueue(outFrame{data: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// Write sends raw bytes as a single frame, bypassing the chunking
// codec. Intended for diagnostics.
func (l *Link) Write(raw []byte) error {
	if len(raw) == 0 || len(raw) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", transport.ErrChunkTooLarge, len(raw))
	}
	return l.enqueue(outFrame{data: raw})
}

// Close tears the link down immediately without the shutdown
// handshake.
func (l *Link) Close() error {
	l.finish(nil)
	return nil
}

func (l *Link) enqueue(f outFrame) error {
	select {
	case <-l.done:
		return transport.ErrNotOpen
	case l.outbound <- f:
		return nil
	}
}

func (l *Link) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case f := <-l.outbound:
			if err := l.writeFrame(f.data); err != nil {
				l.finish(fmt.Errorf("%w: %v", transport.ErrConnectionLost, err))
				return
			}
			l.logEvent(log.CategoryData, fmt.Sprintf("sent frame of %d bytes", len(f.data)))

			if f.shutdown {
				// Give the peer time to drain before the socket drops.
				time.Sleep(transport.TerminationLingerDelay)
				l.finish(nil)
				return
			}
		}
	}
}

func (l *Link) writeFrame(data []byte) error {
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	_, err := l.conn.Write(buf)
	return err
}

func (l *Link) readLoop() {
	reassembler := transport.NewReassembler()

	l.handler.OnPeerConnected()

	for {
		chunk, err := l.readFrame()
		if err != nil {
			select {
			case <-l.done:
				// Local teardown already reported.
				return
			default:
			}
			l.finish(fmt.Errorf("%w: %v", transport.ErrConnectionLost, err))
			return
		}

		msg, done, sentinel, err := reassembler.Push(chunk)
		if err != nil {
			l.finish(err)
			return
		}
		if sentinel {
			l.logEvent(log.CategoryState, "peer sent shutdown sentinel")
			l.finish(nil)
			return
		}
		if done {
			l.logEvent(log.CategoryData, fmt.Sprintf("received message of %d bytes", len(msg)))
			l.handler.OnMessageReceived(msg)
		}
	}
}

func (l *Link) readFrame() ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(l.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	size := int(binary.BigEndian.Uint16(lenBuf[:]))
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	chunk := make([]byte, size)
	if _, err := io.ReadFull(l.conn, chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// finish tears the link down exactly once and fires the terminal
// callback: OnError for fatal errors, OnPeerDisconnected otherwise.
func (l *Link) finish(err error) {
	l.doneOnce.Do(func() {
		close(l.done)
		l.conn.Close()

		if err != nil {
			l.logEvent(log.CategoryError, err.Error())
			l.handler.OnError(err)
			return
		}
		l.logEvent(log.CategoryState, "link closed")
		l.handler.OnPeerDisconnected()
	})
}

func (l *Link) logEvent(cat log.Category, msg string) {
	l.logger.Log(log.NewEvent(l.connID, log.DirectionInternal, log.LayerLink, cat, msg))
}
