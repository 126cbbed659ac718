package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

type captureFlush struct {
	chunks []string
	err    error
}

func (c *captureFlush) flush(_ context.Context, content string) error {
	if c.err != nil {
		return c.err
	}
	c.chunks = append(c.chunks, content)
	return nil
}

func TestBufferFlushesAtSizeThreshold(t *testing.T) {
	var sink captureFlush
	b := NewBuffer(10, time.Hour, sink.flush)
	ctx := context.Background()

	if err := b.Append(ctx, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(sink.chunks) != 0 {
		t.Fatalf("below threshold must not flush: %v", sink.chunks)
	}
	if err := b.Append(ctx, " world"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(sink.chunks) != 1 || sink.chunks[0] != "hello world" {
		t.Fatalf("size threshold flush: %v", sink.chunks)
	}
	if b.Len() != 0 {
		t.Fatalf("buffer must be clear after flush, have %d bytes", b.Len())
	}
}

func TestBufferFlushesAtTimeThreshold(t *testing.T) {
	var sink captureFlush
	b := NewBuffer(1 << 20, 5*time.Second, sink.flush)
	ctx := context.Background()

	clock := time.Unix(1000, 0)
	b.now = func() time.Time { return clock }
	b.lastFlush = clock

	if err := b.Append(ctx, "a"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(sink.chunks) != 0 {
		t.Fatalf("interval not elapsed, must not flush")
	}

	clock = clock.Add(6 * time.Second)
	if err := b.Append(ctx, "b"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(sink.chunks) != 1 || sink.chunks[0] != "ab" {
		t.Fatalf("time threshold flush: %v", sink.chunks)
	}
}

func TestBufferFlushEmptyIsNoop(t *testing.T) {
	var sink captureFlush
	b := NewBuffer(10, time.Hour, sink.flush)
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(sink.chunks) != 0 {
		t.Fatalf("empty flush must not persist a chunk")
	}
}

func TestBufferKeepsContentOnFlushError(t *testing.T) {
	sink := captureFlush{err: errors.New("db down")}
	b := NewBuffer(2, time.Hour, sink.flush)
	ctx := context.Background()

	if err := b.Append(ctx, "abc"); err == nil {
		t.Fatalf("expected flush error")
	}
	// Content must stay buffered so a later flush can still persist it.
	sink.err = nil
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if len(sink.chunks) != 1 || sink.chunks[0] != "abc" {
		t.Fatalf("buffered content lost on flush error: %v", sink.chunks)
	}
}
