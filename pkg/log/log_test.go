package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestEventCBORRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{
			name: "state change",
			event: Event{
				Timestamp:    time.Now().UTC(),
				ConnectionID: "conn-1",
				Direction:    DirectionInternal,
				Layer:        LayerLink,
				Category:     CategoryState,
				Message:      "link state changed",
				StateChange:  &StateChangeEvent{OldState: "Connecting", NewState: "ServiceDiscovery"},
			},
		},
		{
			name: "chunk traffic",
			event: Event{
				Timestamp:    time.Now().UTC(),
				ConnectionID: "conn-2",
				Direction:    DirectionDeviceToReader,
				Layer:        LayerChunk,
				Category:     CategoryData,
				Message:      "chunk written",
				Data:         &DataEvent{Size: 20, Chunks: 3, Final: true},
			},
		},
		{
			name: "error",
			event: Event{
				Timestamp:    time.Now().UTC(),
				ConnectionID: "conn-3",
				Direction:    DirectionReaderToDevice,
				Layer:        LayerSession,
				Category:     CategoryError,
				Message:      "decryption failed",
				Error:        &ErrorEventData{Message: "cipher: message authentication failed", Context: "decrypt"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(tt.event)
			if err != nil {
				t.Fatalf("EncodeEvent failed: %v", err)
			}

			got, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}

			if got.ConnectionID != tt.event.ConnectionID {
				t.Errorf("ConnectionID = %q, want %q", got.ConnectionID, tt.event.ConnectionID)
			}
			if got.Direction != tt.event.Direction {
				t.Errorf("Direction = %v, want %v", got.Direction, tt.event.Direction)
			}
			if got.Layer != tt.event.Layer {
				t.Errorf("Layer = %v, want %v", got.Layer, tt.event.Layer)
			}
			if got.Category != tt.event.Category {
				t.Errorf("Category = %v, want %v", got.Category, tt.event.Category)
			}
			if got.Message != tt.event.Message {
				t.Errorf("Message = %q, want %q", got.Message, tt.event.Message)
			}
			if (got.StateChange == nil) != (tt.event.StateChange == nil) {
				t.Errorf("StateChange presence mismatch")
			}
			if (got.Data == nil) != (tt.event.Data == nil) {
				t.Errorf("Data presence mismatch")
			}
			if (got.Error == nil) != (tt.event.Error == nil) {
				t.Errorf("Error presence mismatch")
			}
		})
	}
}

func TestEnumStrings(t *testing.T) {
	if got := DirectionDeviceToReader.String(); got != "DEVICE_TO_READER" {
		t.Errorf("Direction.String() = %q", got)
	}
	if got := Direction(99).String(); got != "UNKNOWN" {
		t.Errorf("unknown direction = %q", got)
	}
	if got := LayerChunk.String(); got != "CHUNK" {
		t.Errorf("Layer.String() = %q", got)
	}
	if got := CategoryCrypto.String(); got != "CRYPTO" {
		t.Errorf("Category.String() = %q", got)
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}

	l := NewSlogAdapter(slog.Default())
	if OrNoop(l) != Logger(l) {
		t.Error("OrNoop should pass through non-nil loggers")
	}
}

func TestSlogAdapterLevels(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	// Debug-level event is filtered out at Warn level.
	adapter.Log(NewEvent("c", DirectionInternal, LayerLink, CategoryState, "ignored"))
	if buf.Len() != 0 {
		t.Errorf("state event should not log at warn level: %s", buf.String())
	}

	ev := NewEvent("c", DirectionInternal, LayerLink, CategoryWarning, "mtu fallback")
	adapter.Log(ev)
	if !strings.Contains(buf.String(), "mtu fallback") {
		t.Errorf("warning event missing from output: %s", buf.String())
	}
}
