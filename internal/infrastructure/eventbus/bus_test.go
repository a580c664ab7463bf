package eventbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent("file.write", "payload")
	if ev.Type() != "file.write" {
		t.Errorf("Type: got %q, want %q", ev.Type(), "file.write")
	}
	if ev.Payload().(string) != "payload" {
		t.Errorf("Payload: got %v", ev.Payload())
	}
	if ev.Timestamp().IsZero() {
		t.Error("Timestamp should not be zero")
	}
}

func TestInMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 100)
	defer bus.Close()

	var received atomic.Int32
	bus.Subscribe("run.status", func(ctx context.Context, ev Event) {
		received.Add(1)
	})

	for i := 0; i < 3; i++ {
		bus.Publish(context.Background(), NewEvent("run.status", nil))
	}
	time.Sleep(50 * time.Millisecond)

	if got := received.Load(); got != 3 {
		t.Errorf("expected 3 events received, got %d", got)
	}
}

func TestInMemoryBusWildcardSubscriber(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 100)
	defer bus.Close()

	var wildcard, specific atomic.Int32
	bus.Subscribe("*", func(ctx context.Context, ev Event) { wildcard.Add(1) })
	bus.Subscribe("file.write", func(ctx context.Context, ev Event) { specific.Add(1) })

	bus.Publish(context.Background(), NewEvent("file.write", nil))
	bus.Publish(context.Background(), NewEvent("file.delete", nil))
	time.Sleep(50 * time.Millisecond)

	if got := wildcard.Load(); got != 2 {
		t.Errorf("wildcard: expected 2, got %d", got)
	}
	if got := specific.Load(); got != 1 {
		t.Errorf("specific: expected 1, got %d", got)
	}
}

func TestInMemoryBusDroppedWhenClosed(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 10)

	var received atomic.Int32
	bus.Subscribe("*", func(ctx context.Context, ev Event) { received.Add(1) })
	bus.Close()

	bus.Publish(context.Background(), NewEvent("file.write", nil))
	time.Sleep(20 * time.Millisecond)

	if got := received.Load(); got != 0 {
		t.Errorf("expected 0 events after close, got %d", got)
	}
}

func TestInMemoryBusHandlerPanicDoesNotBlockOthers(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 100)
	defer bus.Close()

	var ok atomic.Int32
	bus.Subscribe("*", func(ctx context.Context, ev Event) { panic("boom") })
	bus.Subscribe("*", func(ctx context.Context, ev Event) { ok.Add(1) })

	bus.Publish(context.Background(), NewEvent("file.write", nil))
	time.Sleep(50 * time.Millisecond)

	if got := ok.Load(); got != 1 {
		t.Errorf("expected surviving handler to run once, got %d", got)
	}
}

func TestPersistentBusReplay(t *testing.T) {
	dir := t.TempDir()
	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 10}, testLogger())
	if err != nil {
		t.Fatalf("NewPersistentBus: %v", err)
	}

	bus.Publish(context.Background(), NewEvent("file.write", map[string]any{"path": "a.txt"}))
	bus.Publish(context.Background(), NewEvent("file.write", map[string]any{"path": "b.txt"}))
	bus.Close()

	reopened, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 10}, testLogger())
	if err != nil {
		t.Fatalf("reopen NewPersistentBus: %v", err)
	}
	defer reopened.Close()

	var replayed atomic.Int32
	reopened.Subscribe("*", func(ctx context.Context, ev Event) { replayed.Add(1) })

	n, err := reopened.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 replayed, got %d", n)
	}
	time.Sleep(50 * time.Millisecond)
	if got := replayed.Load(); got != 2 {
		t.Errorf("expected 2 dispatched from replay, got %d", got)
	}
}

func TestPersistentBusTruncate(t *testing.T) {
	dir := t.TempDir()
	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 10}, testLogger())
	if err != nil {
		t.Fatalf("NewPersistentBus: %v", err)
	}
	defer bus.Close()

	bus.Publish(context.Background(), NewEvent("file.write", nil))
	if bus.WALSize() == 0 {
		t.Fatal("expected nonzero WAL size before truncate")
	}

	if err := bus.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if bus.WALSize() != 0 {
		t.Errorf("expected WAL size 0 after truncate, got %d", bus.WALSize())
	}
}
