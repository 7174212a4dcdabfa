// Package testhelpers holds small utilities shared by package tests.
package testhelpers

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogBuf is a synchronized io.Writer for capturing zerolog output in tests.
// A raw bytes.Buffer would trip the race detector when loggers are used from
// background goroutines.
//
// Typical usage:
//	logs := testhelpers.NewLogBuf()
//	ctx := logs.Context(context.Background())
//	<do test things that log through zerolog.Ctx(ctx)>
//	if !logs.Contains("some test value") { t.Error("missing expected log") }
type LogBuf struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogBuf returns an empty log buffer.
func NewLogBuf() *LogBuf {
	return &LogBuf{}
}

// Write satisfies io.Writer.
func (lb *LogBuf) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

// String returns everything logged so far.
func (lb *LogBuf) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// Contains reports whether s appears anywhere in the logs.
func (lb *LogBuf) Contains(s string) bool {
	return strings.Contains(lb.String(), s)
}

// Reset discards the logs.
func (lb *LogBuf) Reset() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.buf.Reset()
}

// Context returns a child of ctx carrying a debug level zerolog.Logger that
// writes to lb.
func (lb *LogBuf) Context(ctx context.Context) context.Context {
	l := zerolog.New(lb).Level(zerolog.DebugLevel)
	return l.WithContext(ctx)
}
