// Package log provides structured protocol event logging for the mdoc
// transport and session layers.
//
// Events carry a connection ID, a direction (device→reader,
// reader→device, or internal), the layer that captured the event
// (link, chunk, session, engagement) and a category (state change,
// data, crypto, warning, error). Events are CBOR-serialisable with
// integer keys so capture files stay compact.
//
// Applications pass a Logger into the transport and session
// constructors. NoopLogger (the default) discards everything;
// SlogAdapter bridges events to a standard library log/slog logger
// for console output.
package log
