package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

// ErrPortClosed is returned by TestableSerialPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory tracker bridge for tests and dev mode.
// Reads block until lines are fed or the port is closed; every write is
// captured.
type TestableSerialPort struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  bytes.Buffer
	written  bytes.Buffer
	closed   bool
	writeErr error
}

// NewTestableSerialPort creates an empty port.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Read blocks until data is available or the port is closed.
func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.pending.Len() == 0 {
		p.cond.Wait()
	}
	if p.pending.Len() == 0 {
		return 0, ErrPortClosed
	}
	return p.pending.Read(b)
}

// Write records b, or fails with the error set by FailWrites.
func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

// Close wakes blocked readers. Buffered lines are still delivered first.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// FeedLines queues lines for readers, adding the trailing newline.
func (p *TestableSerialPort) FeedLines(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		p.pending.WriteString(strings.TrimRight(l, "\n"))
		p.pending.WriteByte('\n')
	}
	p.cond.Broadcast()
}

// FailWrites makes subsequent writes return err. nil restores them.
func (p *TestableSerialPort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Written returns everything written so far.
func (p *TestableSerialPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}
