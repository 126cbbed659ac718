// Package stream persists a concurrently-streaming model output: deltas are
// buffered and flushed to storage as ordered chunks at bounded size/time
// intervals, with an unconditional final flush on every exit path so no
// delta is ever lost.
package stream

import (
	"context"
	"strings"
	"time"
)

// Default thresholds. The size threshold bounds write amplification, the
// time threshold bounds worst-case persistence latency.
const (
	DefaultMinChunkSize  = 240
	DefaultFlushInterval = 2 * time.Second
)

// FlushFunc persists one accumulated chunk.
type FlushFunc func(ctx context.Context, content string) error

// Buffer accumulates stream deltas for a single message channel and flushes
// them when either threshold is crossed. It is owned by exactly one
// producer; there is no internal locking.
type Buffer struct {
	minChunkSize  int
	flushInterval time.Duration
	flush         FlushFunc
	now           func() time.Time

	buf       strings.Builder
	lastFlush time.Time
}

// NewBuffer creates a Buffer. Non-positive thresholds fall back to the
// defaults.
func NewBuffer(minChunkSize int, flushInterval time.Duration, flush FlushFunc) *Buffer {
	if minChunkSize <= 0 {
		minChunkSize = DefaultMinChunkSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	b := &Buffer{
		minChunkSize:  minChunkSize,
		flushInterval: flushInterval,
		flush:         flush,
		now:           time.Now,
	}
	b.lastFlush = b.now()
	return b
}

// Append adds one incoming delta and flushes if the buffer has grown past
// the size threshold or the flush interval has elapsed since the last flush.
func (b *Buffer) Append(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	b.buf.WriteString(text)
	if b.buf.Len() >= b.minChunkSize || b.now().Sub(b.lastFlush) >= b.flushInterval {
		return b.Flush(ctx)
	}
	return nil
}

// Flush unconditionally persists whatever is buffered, clears the buffer,
// and resets the interval timer. Flushing an empty buffer is a no-op.
func (b *Buffer) Flush(ctx context.Context) error {
	if b.buf.Len() == 0 {
		b.lastFlush = b.now()
		return nil
	}
	content := b.buf.String()
	if err := b.flush(ctx, content); err != nil {
		return err
	}
	b.buf.Reset()
	b.lastFlush = b.now()
	return nil
}

// Len returns the number of buffered-but-unflushed bytes.
func (b *Buffer) Len() int { return b.buf.Len() }
