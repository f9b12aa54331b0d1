// Package eventlog is the append-only structured event sink (SPEC_FULL.md
// §4.3): one JSON object per line, written with zerolog the same way
// cmd/polybot/main.go wires its console logger, but to a dedicated file
// sink rather than stderr.
package eventlog

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Well-known event names (§4.3).
const (
	EventSignRequestCreated = "executor.live.sign_request.created"
	EventSignRequestSent    = "executor.live.sign_request.sent"
	EventSignRequestRetry   = "executor.live.sign_request.retry"
	EventSignResponse       = "executor.live.sign_response.received"
	EventOrderConfirmed     = "executor.live.order.confirmed"
	EventOrderRejected      = "executor.live.order.rejected"
	EventSafetyHalt         = "executor.live.safety_halt"
	EventLiveDisabled       = "executor.live.disabled"
	EventHandlerError       = "handler_error"
)

// Log is the structured event sink. Writes never panic the caller and
// never return an error: a failed write goes to zerolog's ErrorHandler
// (stderr by default). No handler_error event is emitted for it.
type Log struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	file     *os.File
	warnedIO bool
}

// Open creates (or appends to) path and returns a ready Log.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{
		logger: zerolog.New(f).With().Timestamp().Logger(),
		file:   f,
	}, nil
}

// Emit writes one JSON event line with the given name plus arbitrary
// key/value fields (one JSON field per map entry).
func (l *Log) Emit(event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	evt := l.logger.Log().Str("event", event)
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg("")
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
