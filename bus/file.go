package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// FileBus implements Bus as an append-only log of JSON lines shared by
// processes on one machine. Endpoints watch the log with fsnotify and read
// whatever was appended since their last read.
//
// Once the log reaches its size limit, the next Publish truncates it before
// appending. An endpoint that had not yet read the tail of the old log
// loses those messages and resumes from the start of the new one.
type FileBus struct {
	path    string
	sender  string
	log     *slog.Logger
	maxSize int64

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	offset  int64
	partial []byte
	done    chan struct{}
	closed  bool
}

// DefaultMaxLogSize is the log size at which Publish starts the log over.
const DefaultMaxLogSize = 1 << 20

// FileOption configures a FileBus.
type FileOption func(*FileBus)

// WithFileLogger sets the logger used for watch errors and dropped messages.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(b *FileBus) { b.log = l }
}

// WithMaxLogSize sets the size at which the log is truncated.
// Values below one keep the default.
func WithMaxLogSize(n int64) FileOption {
	return func(b *FileBus) {
		if n > 0 {
			b.maxSize = n
		}
	}
}

// NewFile opens an endpoint on the log at path, creating it if needed.
// Only messages appended after this call are delivered.
func NewFile(path string, opts ...FileOption) (*FileBus, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file: failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("file: failed to open log: %w", err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("file: failed to stat log: %w", err)
	}

	b := &FileBus{
		path:    path,
		sender:  uuid.NewString(),
		log:     slog.Default(),
		maxSize: DefaultMaxLogSize,
		offset:  info.Size(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Publish appends msg to the log as one line.
func (b *FileBus) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := encodeEnvelope(b.sender, msg)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("file: failed to open log: %w", err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() >= b.maxSize {
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("file: failed to truncate log: %w", err)
		}
		b.log.Debug("broadcast log truncated", "path", b.path, "size", info.Size())
	}

	// A single small O_APPEND write lands as one unit.
	if _, err := f.Write(payload); err != nil {
		return fmt.Errorf("file: failed to append message: %w", err)
	}
	return nil
}

// Subscribe starts watching the log and delivering new messages to h.
func (b *FileBus) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.watcher != nil {
		return ErrAlreadySubscribed
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file: failed to create watcher: %w", err)
	}
	// Watch the directory so a recreated log is picked up too.
	if err := w.Add(filepath.Dir(b.path)); err != nil {
		w.Close()
		return fmt.Errorf("file: failed to watch %s: %w", b.path, err)
	}

	b.watcher = w
	b.done = make(chan struct{})
	go b.watchLoop(w, h, b.done)
	return nil
}

func (b *FileBus) watchLoop(w *fsnotify.Watcher, h Handler, done chan struct{}) {
	defer close(done)

	name := filepath.Clean(b.path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				for _, msg := range b.readNew() {
					h(msg)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			b.log.Warn("broadcast log watch error", "path", b.path, "error", err)
		}
	}
}

// readNew returns the complete messages appended since the last read,
// skipping this endpoint's own messages.
func (b *FileBus) readNew() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.log.Warn("failed to open broadcast log", "path", b.path, "error", err)
		}
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil
	}
	if info.Size() < b.offset {
		// The log was truncated or replaced; start over from its beginning.
		b.offset = 0
		b.partial = nil
	}

	if _, err := f.Seek(b.offset, io.SeekStart); err != nil {
		return nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		b.log.Warn("failed to read broadcast log", "path", b.path, "error", err)
		return nil
	}
	b.offset += int64(len(data))

	data = append(b.partial, data...)
	lines := bytes.Split(data, []byte{'\n'})
	// The last element is either empty or an incomplete line.
	b.partial = append([]byte(nil), lines[len(lines)-1]...)

	var msgs []Message
	for _, line := range lines[:len(lines)-1] {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		sender, msg, err := decodeEnvelope(line)
		if err != nil {
			b.log.Debug("dropping broadcast message", "path", b.path, "error", err)
			continue
		}
		if sender == b.sender {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// Close stops watching the log.
func (b *FileBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	w, done := b.watcher, b.done
	b.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
