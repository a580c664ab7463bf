package eventbus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PersistentBus wraps InMemoryBus with a write-ahead log of its own,
// separate from the eventstore's events table. The eventstore's gorm
// database is this system's source of truth (see eventstore/store.go); this
// WAL exists only so a live subscriber (websocket client, TUI) that was
// briefly disconnected can replay what it missed without re-querying the
// store, and so the bus survives a process restart with its recent fan-out
// history intact.
type PersistentBus struct {
	inner   *InMemoryBus
	walFile *os.File
	writer  *bufio.Writer
	walPath string
	mu      sync.Mutex
	logger  *zap.Logger

	maxWALSize int64
	written    int64
}

type walEntry struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload"`
}

// PersistentBusConfig configures the WAL-backed bus.
type PersistentBusConfig struct {
	WALDir     string
	BufferSize int
	MaxWALSize int64
}

// NewPersistentBus opens (or creates) the WAL file and starts dispatch.
func NewPersistentBus(cfg PersistentBusConfig, logger *zap.Logger) (*PersistentBus, error) {
	if cfg.WALDir == "" {
		return nil, fmt.Errorf("WALDir is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxWALSize <= 0 {
		cfg.MaxWALSize = 10 * 1024 * 1024
	}

	if err := os.MkdirAll(cfg.WALDir, 0o755); err != nil {
		return nil, fmt.Errorf("create WAL dir: %w", err)
	}

	walPath := filepath.Join(cfg.WALDir, "events.wal")
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}

	stat, _ := f.Stat()
	var currentSize int64
	if stat != nil {
		currentSize = stat.Size()
	}

	return &PersistentBus{
		inner:      NewInMemoryBus(logger, cfg.BufferSize),
		walFile:    f,
		writer:     bufio.NewWriterSize(f, 64*1024),
		walPath:    walPath,
		logger:     logger.With(zap.String("component", "persistent-eventbus")),
		maxWALSize: cfg.MaxWALSize,
		written:    currentSize,
	}, nil
}

// Publish appends event to the WAL, then dispatches it in-memory.
func (b *PersistentBus) Publish(ctx context.Context, event Event) {
	entry := walEntry{Type: event.Type(), Timestamp: event.Timestamp(), Payload: event.Payload()}

	data, err := json.Marshal(entry)
	if err != nil {
		b.logger.Error("failed to marshal event for WAL", zap.String("type", event.Type()), zap.Error(err))
	} else {
		b.mu.Lock()
		n, writeErr := b.writer.Write(append(data, '\n'))
		if writeErr != nil {
			b.logger.Error("WAL write failed", zap.String("type", event.Type()), zap.Error(writeErr))
		}
		b.written += int64(n)
		_ = b.writer.Flush()

		if b.maxWALSize > 0 && b.written >= b.maxWALSize {
			b.rotateLocked()
		}
		b.mu.Unlock()
	}

	b.inner.Publish(ctx, event)
}

// Subscribe delegates to the in-memory bus.
func (b *PersistentBus) Subscribe(eventType string, handler Handler) { b.inner.Subscribe(eventType, handler) }

// Unsubscribe delegates to the in-memory bus.
func (b *PersistentBus) Unsubscribe(eventType string, handler Handler) {
	b.inner.Unsubscribe(eventType, handler)
}

// Close flushes the WAL and shuts down dispatch.
func (b *PersistentBus) Close() {
	b.mu.Lock()
	_ = b.writer.Flush()
	_ = b.walFile.Sync()
	_ = b.walFile.Close()
	b.mu.Unlock()

	b.inner.Close()
	b.logger.Info("persistent event bus closed")
}

// Replay re-emits every WAL entry to whatever handlers are already
// subscribed. Call after Subscribe, before accepting new publishes, to hand
// a reconnecting subscriber its recent backlog.
func (b *PersistentBus) Replay(ctx context.Context) (int, error) {
	f, err := os.Open(b.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open WAL for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry walEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			b.logger.Warn("skipping corrupt WAL entry", zap.Error(err))
			continue
		}

		b.inner.Publish(ctx, &BaseEvent{EventType: entry.Type, EventTimestamp: entry.Timestamp, EventPayload: entry.Payload})
		count++
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("WAL scan error: %w", err)
	}

	b.logger.Info("WAL replay complete", zap.Int("events_replayed", count))
	return count, nil
}

// Truncate resets the WAL, typically called right after a checkpoint so
// the backlog a reconnecting client can replay doesn't grow unbounded.
func (b *PersistentBus) Truncate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.writer.Flush()
	_ = b.walFile.Close()

	f, err := os.Create(b.walPath)
	if err != nil {
		return fmt.Errorf("truncate WAL: %w", err)
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0

	b.logger.Info("WAL truncated")
	return nil
}

func (b *PersistentBus) rotateLocked() {
	_ = b.writer.Flush()
	_ = b.walFile.Close()

	oldPath := b.walPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(b.walPath, oldPath)

	f, err := os.OpenFile(b.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		b.logger.Error("WAL rotation failed", zap.Error(err))
		return
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0

	b.logger.Info("WAL rotated", zap.String("old_path", oldPath))
}

// WALSize returns the current WAL file size in bytes.
func (b *PersistentBus) WALSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

var _ Bus = (*PersistentBus)(nil)
var _ Bus = (*InMemoryBus)(nil)
