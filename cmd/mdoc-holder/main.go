// Command mdoc-holder is a reference mdoc holder (device side).
//
// The holder generates an ephemeral session, publishes the device
// engagement as an mdoc: QR payload, waits for a reader to connect and
// serves encrypted presentation requests until either side terminates.
//
// Usage:
//
//	mdoc-holder [flags]
//
// Flags:
//
//	-sim              Use the simulated TCP link instead of BLE (default true)
//	-listen string    Simulated link listen address (default ":0")
//	-name string      mDNS instance name (default "mdoc-holder")
//	-adapter string   BLE adapter for -sim=false (default "hci0")
//	-response string  Canned response payload (default "mdoc-response")
//	-qr-png string    Also write the engagement QR code to this PNG file
//	-log-level string Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Simulated link with mDNS advertisement
//	mdoc-holder -sim -name kitchen-holder
//
//	# BLE via BlueZ, writing the QR code for a phone reader to scan
//	mdoc-holder -sim=false -adapter hci0 -qr-png engagement.png
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/mdoc-protocol/mdoc-go/pkg/engagement"
	"github.com/mdoc-protocol/mdoc-go/pkg/holder"
	"github.com/mdoc-protocol/mdoc-go/pkg/log"
	"github.com/mdoc-protocol/mdoc-go/pkg/sim"
	"github.com/mdoc-protocol/mdoc-go/pkg/transport"
	"github.com/mdoc-protocol/mdoc-go/pkg/transport/bluez"
)

// Config holds the holder configuration.
type Config struct {
	Sim      bool
	Listen   string
	Name     string
	Adapter  string
	Response string
	QRPNG    string
	LogLevel string
}

var config Config

func init() {
	flag.BoolVar(&config.Sim, "sim", true, "Use the simulated TCP link instead of BLE")
	flag.StringVar(&config.Listen, "listen", ":0", "Simulated link listen address")
	flag.StringVar(&config.Name, "name", "mdoc-holder", "mDNS instance name")
	flag.StringVar(&config.Adapter, "adapter", "hci0", "BLE adapter for -sim=false")
	flag.StringVar(&config.Response, "response", "mdoc-response", "Canned response payload")
	flag.StringVar(&config.QRPNG, "qr-png", "", "Also write the engagement QR code to this PNG file")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	logger := setupLogging(config.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := holder.NewSession(holder.Config{
		Handler: handleRequest,
		OnEnd: func(err error) {
			if err != nil {
				slog.Error("session ended", "error", err)
			} else {
				slog.Info("session ended")
			}
			cancel()
		},
		Logger: logger,
	}, bleMethods()...)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	qr, err := session.QR()
	if err != nil {
		slog.Error("failed to render QR payload", "error", err)
		os.Exit(1)
	}

	fmt.Println("mdoc holder ready, present this engagement to the reader:")
	fmt.Println()
	fmt.Println("  " + qr)
	fmt.Println()

	if config.QRPNG != "" {
		if err := qrcode.WriteFile(qr, qrcode.Medium, 256, config.QRPNG); err != nil {
			slog.Error("failed to write QR PNG", "error", err)
			os.Exit(1)
		}
		slog.Info("wrote engagement QR code", "path", config.QRPNG)
	}

	if config.Sim {
		err = runSim(ctx, session, qr, logger)
	} else {
		err = runBLE(ctx, session, logger)
	}
	if err != nil {
		slog.Error("link failed", "error", err)
		os.Exit(1)
	}

	console(ctx, cancel, session)

	slog.Info("shutting down")
}

// handleRequest serves one decrypted reader request.
func handleRequest(request []byte) ([]byte, error) {
	slog.Info("received request", "size", len(request), "payload", string(request))
	return []byte(config.Response), nil
}

// bleMethods returns the BLE retrieval method for the engagement, or
// nothing in simulated mode. The service UUID is freshly generated per
// session; the reader learns it from the engagement.
func bleMethods() []engagement.RetrievalMethod {
	if config.Sim {
		return nil
	}
	m, err := engagement.NewBLEMethod(uuid.New())
	if err != nil {
		slog.Error("failed to build BLE retrieval method", "error", err)
		os.Exit(1)
	}
	return []engagement.RetrievalMethod{m}
}

// runSim listens on TCP and advertises the engagement over mDNS.
func runSim(ctx context.Context, session *holder.Session, qr string, logger log.Logger) error {
	ln, err := sim.Listen(config.Listen)
	if err != nil {
		return err
	}

	adv, err := sim.Advertise(config.Name, ln.Port(), qr, nil)
	if err != nil {
		slog.Warn("mDNS advertisement failed, reader must dial directly", "error", err)
	} else {
		slog.Info("advertising simulated link", "instance", config.Name, "port", ln.Port())
	}

	go func() {
		defer ln.Close()
		if adv != nil {
			defer adv.Shutdown()
		}

		link, err := ln.Accept(sim.Config{Handler: session, Logger: logger})
		if err != nil {
			slog.Error("accept failed", "error", err)
			return
		}
		session.Attach(link)
		slog.Info("reader connected over simulated link")
		<-ctx.Done()
	}()
	return nil
}

// runBLE scans for the reader's GATT server and connects.
func runBLE(ctx context.Context, session *holder.Session, logger log.Logger) error {
	central, err := bluez.NewCentral(config.Adapter)
	if err != nil {
		return err
	}

	serviceUUID, err := session.Engagement().BLEServiceUUID()
	if err != nil {
		return err
	}

	scanner := transport.NewScanner(central, nil, logger)
	candidate, err := scanner.Scan(ctx, serviceUUID, 30*time.Second)
	if err != nil {
		return err
	}
	slog.Info("found reader", "peer", candidate.ID, "rssi", candidate.RSSI)

	cfg := transport.DefaultConfig(serviceUUID)
	cfg.EDeviceKeyBytes = session.EDeviceKeyBytes()
	cfg.Logger = logger

	conn := transport.NewConnection(central, cfg, session)
	session.Attach(conn)
	return conn.Connect(*candidate)
}

// console runs the interactive command loop until quit or ctx done.
func console(ctx context.Context, cancel context.CancelFunc, session *holder.Session) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "holder> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		// No terminal: wait for the session or a signal instead.
		waitSignal(ctx)
		return
	}
	defer rl.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := rl.Readline()
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				cancel()
				return
			}
			switch strings.TrimSpace(line) {
			case "":
			case "help", "?":
				printHelp()
			case "terminate", "t":
				if err := session.Terminate(); err != nil {
					fmt.Fprintf(rl.Stdout(), "terminate: %v\n", err)
				}
			case "quit", "q", "exit":
				cancel()
				return
			default:
				fmt.Fprintf(rl.Stdout(), "unknown command %q\n", line)
			}
		}
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  terminate, t   End the session gracefully (status 20)")
	fmt.Println("  quit, q        Exit")
	fmt.Println("  help, ?        Show this help")
}

func waitSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
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
