// Package disklog writes raw monitoring events to gzip-compressed JSON line
// files, one file per connection of a monitor, and reads them back.
package disklog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
)

// FileSuffix is the extension of every disk log file.
const FileSuffix = ".json.gz"

const timestampLayout = "2006-01-02_15-04-05.000000000"

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("disk logger closed")

// Logger is one disk log scope. It is owned by a single goroutine.
type Logger struct {
	path   string
	file   *os.File
	gz     *gzip.Writer
	enc    *json.Encoder
	closed bool
	count  int
}

// Open creates a new log file for monitor under dir, named after the current
// UTC time. Missing directories are created.
func Open(dir, monitor string) (*Logger, error) {
	if err := monitoring.ValidateMonitorName(monitor); err != nil {
		return nil, fmt.Errorf("disk logging: %w", err)
	}
	monitorDir := filepath.Join(dir, monitor)
	if err := os.MkdirAll(monitorDir, 0755); err != nil {
		return nil, fmt.Errorf("create disk log directory: %w", err)
	}

	base := filepath.Join(monitorDir, time.Now().UTC().Format(timestampLayout))
	path := base + FileSuffix
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	for i := 1; errors.Is(err, fs.ErrExist) && i < 10; i++ {
		path = fmt.Sprintf("%s-%d%s", base, i, FileSuffix)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("create disk log file: %w", err)
	}

	gz := gzip.NewWriter(f)
	return &Logger{
		path: path,
		file: f,
		gz:   gz,
		enc:  json.NewEncoder(gz),
	}, nil
}

// Path returns the file the logger writes to.
func (l *Logger) Path() string { return l.path }

// Count returns the number of events logged so far.
func (l *Logger) Count() int { return l.count }

// Log appends ev as one JSON line.
func (l *Logger) Log(ev monitoring.Event) error {
	if l.closed {
		return ErrClosed
	}
	if err := l.enc.Encode(ev); err != nil {
		return fmt.Errorf("write %s: %w", l.path, err)
	}
	l.count++
	return nil
}

// Close flushes and finalizes the file. Calls after the first are no-ops.
func (l *Logger) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	gzErr := l.gz.Close()
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	if err := errors.Join(gzErr, syncErr, closeErr); err != nil {
		return fmt.Errorf("finalize %s: %w", l.path, err)
	}
	return nil
}

// Reader streams events from a disk log.
type Reader struct {
	gz  *gzip.Reader
	dec *json.Decoder
}

// NewReader reads a gzip-compressed disk log from r.
func NewReader(r io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	return &Reader{gz: gz, dec: json.NewDecoder(gz)}, nil
}

// Next returns the next event, or io.EOF at the end of the log.
func (r *Reader) Next() (monitoring.Event, error) {
	var ev monitoring.Event
	if err := r.dec.Decode(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			return ev, io.EOF
		}
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// Close releases the decompressor. It does not close the underlying reader.
func (r *Reader) Close() error { return r.gz.Close() }

// ReadFile calls fn for every event in the log at path, stopping at the first
// error fn returns.
func ReadFile(path string, fn func(monitoring.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open disk log: %w", err)
	}
	defer f.Close()

	r, err := NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer r.Close()

	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
