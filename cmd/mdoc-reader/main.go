// Command mdoc-reader is a reference mdoc reader for the simulated
// link.
//
// The reader obtains a device engagement (from a flag or by browsing
// mDNS for advertised holders), connects over the simulated TCP link,
// establishes the encrypted session and drives a presentation
// exchange.
//
// Usage:
//
//	mdoc-reader [flags]
//
// Flags:
//
//	-qr string        Engagement payload ("mdoc:...")
//	-addr string      Holder address (host:port); required with -qr
//	-browse           Discover the holder via mDNS instead (default true)
//	-scenario string  YAML scenario file with the requests to send
//	-attr int         Proposed attribute size (default 512)
//	-timeout duration Discovery/response timeout (default 30s)
//	-log-level string Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Discover a holder on the LAN and run the default exchange
//	mdoc-reader -browse
//
//	# Connect directly with a known engagement
//	mdoc-reader -qr "mdoc:owBjMS4wAY..." -addr 192.168.1.20:9000
//
//	# Scripted exchange
//	mdoc-reader -scenario requests.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mdoc-protocol/mdoc-go/pkg/holder"
	"github.com/mdoc-protocol/mdoc-go/pkg/log"
	"github.com/mdoc-protocol/mdoc-go/pkg/sim"
)

// Config holds the reader configuration.
type Config struct {
	QR       string
	Addr     string
	Browse   bool
	Scenario string
	AttrSize uint
	Timeout  time.Duration
	LogLevel string
}

// Scenario is the YAML exchange script.
type Scenario struct {
	// Requests are the plaintext requests sent in order.
	Requests []string `yaml:"requests"`

	// Delay between consecutive requests.
	Delay time.Duration `yaml:"delay"`
}

var config Config

func init() {
	flag.StringVar(&config.QR, "qr", "", `Engagement payload ("mdoc:...")`)
	flag.StringVar(&config.Addr, "addr", "", "Holder address (host:port); required with -qr")
	flag.BoolVar(&config.Browse, "browse", true, "Discover the holder via mDNS instead")
	flag.StringVar(&config.Scenario, "scenario", "", "YAML scenario file with the requests to send")
	flag.UintVar(&config.AttrSize, "attr", 512, "Proposed attribute size")
	flag.DurationVar(&config.Timeout, "timeout", 30*time.Second, "Discovery/response timeout")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	logger := setupLogging(config.LogLevel)

	scenario, err := loadScenario()
	if err != nil {
		slog.Error("failed to load scenario", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	qr, addr := config.QR, config.Addr
	if qr == "" {
		if !config.Browse {
			slog.Error("either -qr with -addr or -browse is required")
			os.Exit(1)
		}
		qr, addr, err = discoverHolder(ctx)
		if err != nil {
			slog.Error("holder discovery failed", "error", err)
			os.Exit(1)
		}
	}
	if addr == "" {
		slog.Error("-addr is required with -qr")
		os.Exit(1)
	}

	if err := runExchange(qr, addr, scenario, logger); err != nil {
		slog.Error("exchange failed", "error", err)
		os.Exit(1)
	}
	slog.Info("exchange complete")
}

// loadScenario reads the YAML script, or returns the default exchange.
func loadScenario() (*Scenario, error) {
	if config.Scenario == "" {
		return &Scenario{Requests: []string{"mdoc-request"}}, nil
	}

	data, err := os.ReadFile(config.Scenario)
	if err != nil {
		return nil, err
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(s.Requests) == 0 {
		return nil, errors.New("scenario contains no requests")
	}
	return &s, nil
}

// discoverHolder browses mDNS until the first holder shows up.
func discoverHolder(ctx context.Context) (qr, addr string, err error) {
	slog.Info("browsing for holders", "service", sim.ServiceType)

	peers, err := sim.Browse(ctx)
	if err != nil {
		return "", "", err
	}

	select {
	case peer, ok := <-peers:
		if !ok {
			return "", "", errors.New("browse channel closed")
		}
		slog.Info("found holder", "instance", peer.InstanceName, "addr", peer.Addr())
		return peer.QR, peer.Addr(), nil
	case <-ctx.Done():
		return "", "", fmt.Errorf("no holder found within %v", config.Timeout)
	}
}

// readerHandler collects link callbacks for the synchronous exchange
// loop.
type readerHandler struct {
	messages     chan []byte
	disconnected chan struct{}
	errs         chan error
}

func newReaderHandler() *readerHandler {
	return &readerHandler{
		messages:     make(chan []byte, 16),
		disconnected: make(chan struct{}, 1),
		errs:         make(chan error, 1),
	}
}

func (h *readerHandler) OnPeerConnected()             {}
func (h *readerHandler) OnMessageReceived(msg []byte) { h.messages <- msg }
func (h *readerHandler) OnTransportTermination()      {}

func (h *readerHandler) OnPeerDisconnected() {
	select {
	case h.disconnected <- struct{}{}:
	default:
	}
}

func (h *readerHandler) OnError(err error) {
	select {
	case h.errs <- err:
	default:
	}
}

// runExchange drives the full presentation exchange.
func runExchange(qr, addr string, scenario *Scenario, logger log.Logger) error {
	session, err := holder.NewReaderSession(qr)
	if err != nil {
		return err
	}
	defer session.Close()

	handler := newReaderHandler()
	link, err := sim.Dial(addr, sim.Config{
		AttributeSize: uint16(config.AttrSize),
		Handler:       handler,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer link.Close()

	slog.Info("connected", "addr", addr, "attribute_size", link.AttributeSize())

	for i, request := range scenario.Requests {
		var envelope []byte
		if i == 0 {
			envelope, err = session.BuildEstablishment([]byte(request))
		} else {
			envelope, err = session.BuildRequest([]byte(request))
		}
		if err != nil {
			return err
		}
		if err := link.SendMessage(envelope); err != nil {
			return err
		}
		slog.Info("sent request", "payload", request)

		response, err := awaitResponse(handler)
		if err != nil {
			return err
		}
		data, status, err := session.DecryptResponse(response)
		if err != nil {
			return err
		}
		if status != nil {
			return fmt.Errorf("holder ended session with status %d", *status)
		}
		slog.Info("received response", "size", len(data), "payload", string(data))

		if scenario.Delay > 0 && i < len(scenario.Requests)-1 {
			time.Sleep(scenario.Delay)
		}
	}

	// Graceful end: status 20, then the shutdown sentinel.
	term, err := session.TerminationMessage()
	if err != nil {
		return err
	}
	if err := link.SendMessage(term); err != nil {
		return err
	}
	if err := link.SendMessage(nil); err != nil {
		return err
	}

	select {
	case <-handler.disconnected:
	case err := <-handler.errs:
		return err
	case <-time.After(config.Timeout):
		return errors.New("timed out waiting for link shutdown")
	}
	return nil
}

func awaitResponse(handler *readerHandler) ([]byte, error) {
	select {
	case msg := <-handler.messages:
		return msg, nil
	case err := <-handler.errs:
		return nil, err
	case <-handler.disconnected:
		return nil, errors.New("holder disconnected before responding")
	case <-time.After(config.Timeout):
		return nil, errors.New("timed out waiting for response")
	}
}

func setupLogging(level string) log.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
	return log.NewSlogAdapter(slog.Default())
}
