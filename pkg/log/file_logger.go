package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// FileExtension is the extension of node protocol log files.
const FileExtension = ".nlog"

// NodeLogPath returns the protocol log path for a node inside dir.
func NodeLogPath(dir, nodeName string) string {
	return filepath.Join(dir, nodeName+FileExtension)
}

// IsLogFile reports whether path carries the protocol log extension.
func IsLogFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), FileExtension)
}

// FileLogger appends CBOR-encoded protocol events to a .nlog file.
// It is safe for concurrent use.
type FileLogger struct {
	path    string
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewFileLogger opens path for appending, creating it and its parent
// directories when missing. A path without an extension gets FileExtension.
func NewFileLogger(path string) (*FileLogger, error) {
	if filepath.Ext(path) == "" {
		path += FileExtension
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		path:    path,
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Path returns the file events are written to.
func (l *FileLogger) Path() string {
	return l.path
}

// Log appends an event. Encoding failures are counted, not returned.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err := l.encoder.Encode(event); err != nil {
		l.dropped.Add(1)
		return
	}
	l.written.Add(1)
}

// Written returns the number of events written.
func (l *FileLogger) Written() uint64 {
	return l.written.Load()
}

// Dropped returns the number of events that failed to encode.
func (l *FileLogger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close closes the file. Later Log calls are ignored; Close is idempotent.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
