// Package irdev provides the IR receive and transmit backends: LIRC
// scancode devices, rc-core evdev input devices, a serial IR modem, and
// dry-run stand-ins.
package irdev

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
)

var (
	ErrUnsupportedProtocol = errors.New("protocol not supported by IR device")
	ErrDeviceClosed        = errors.New("IR device closed")
)

type capture struct {
	frame ircode.Frame
	dump  string
}

// Capture is a one-deep handoff between a device reader goroutine and the
// reactor.  After a frame is handed over the gate stays disarmed until
// Release; frames that arrive meanwhile are dropped and counted.
type Capture struct {
	armed   atomic.Bool
	ch      chan capture
	held    *capture
	dropped atomic.Uint64
}

func NewCapture() *Capture {
	c := &Capture{ch: make(chan capture, 1)}
	c.armed.Store(true)
	return c
}

// offer is called from the reader goroutine.
func (c *Capture) offer(f ircode.Frame, dump string) bool {
	if !c.armed.CompareAndSwap(true, false) {
		c.dropped.Add(1)
		return false
	}
	select {
	case c.ch <- capture{frame: f, dump: dump}:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// TryDecode returns the held frame, if any, without blocking.  The frame
// stays held until Release.
func (c *Capture) TryDecode() (ircode.Frame, bool) {
	if c.held != nil {
		return c.held.frame, true
	}
	select {
	case cp := <-c.ch:
		c.held = &cp
		return cp.frame, true
	default:
		return ircode.Frame{}, false
	}
}

// Release drops the held frame and re-arms the gate.
func (c *Capture) Release() {
	c.held = nil
	c.armed.Store(true)
}

// Dump writes the raw capture details of the held frame.
func (c *Capture) Dump(w io.Writer) {
	if c.held == nil || c.held.dump == "" {
		return
	}
	io.WriteString(w, c.held.dump)
}

// Dropped counts frames lost while the gate was disarmed.
func (c *Capture) Dropped() uint64 { return c.dropped.Load() }

// Run blocks until ctx is done.  An idle Capture is the receiver for hosts
// without IR input.
func (c *Capture) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *Capture) Close() error { return nil }
