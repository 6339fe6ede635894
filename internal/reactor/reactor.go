// Package reactor polls the IR receiver and reacts to decoded frames.
package reactor

import (
	"io"
	"log"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
	"github.com/adumbdinosaur/irbridge/internal/logging"
)

const (
	UnknownNotice = "Received noise or an unknown (or not yet enabled) protocol"
	RepeatNotice  = "Repeat received. Here you can repeat the same action as before."
)

// Receiver is a decoder that holds at most one frame until released.
type Receiver interface {
	TryDecode() (ircode.Frame, bool)
	Release()
	Dump(w io.Writer)
}

// Notifier delivers a line to every open session.
type Notifier interface {
	Broadcast(line string)
}

type Transmitter interface {
	Transmit(cmd ircode.ProtocolCommand) error
}

// Outcome classifies what PollOnce did with a frame.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeRepeat
	OutcomeAction
	OutcomeUnmapped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnknown:
		return "unknown"
	case OutcomeRepeat:
		return "repeat"
	case OutcomeAction:
		return "action"
	case OutcomeUnmapped:
		return "unmapped"
	}
	return "invalid"
}

type Observer interface {
	FrameHandled(f ircode.Frame, outcome Outcome)
}

type Config struct {
	Receiver Receiver
	Actions  *ircode.ActionTable
	Notifier Notifier

	// Commands and Transmitter serve action relays; both optional.
	Commands    *ircode.CommandTable
	Transmitter Transmitter

	// Diagnostics receives raw dumps of unrecognized captures.  Nil means
	// the log sink.
	Diagnostics io.Writer
	Observer    Observer
}

type Reactor struct {
	cfg Config
}

func New(cfg Config) *Reactor {
	if cfg.Actions == nil {
		cfg.Actions = ircode.NewActionTable()
	}
	return &Reactor{cfg: cfg}
}

// PollOnce handles at most one frame and never blocks.  It reports whether
// a frame was taken from the receiver.
//
// An unrecognized capture is dumped while still held and released after.
// A recognized frame is released first so the receiver can capture the
// next one while this one is dispatched from the copied value.
func (r *Reactor) PollOnce() bool {
	rx := r.cfg.Receiver
	f, ok := rx.TryDecode()
	if !ok {
		return false
	}

	if !f.Recognized() {
		log.Printf("IR: %s", UnknownNotice)
		rx.Dump(r.diagnostics())
		rx.Release()
		r.observe(f, OutcomeUnknown)
		return true
	}

	rx.Release()
	log.Printf("IR: Decoded %s", f)
	log.Printf("IR: Send usage %s", f.SendUsage())

	if f.Repeat {
		r.cfg.Notifier.Broadcast(RepeatNotice)
		r.observe(f, OutcomeRepeat)
		return true
	}

	action, ok := r.cfg.Actions.Lookup(f.Command)
	if !ok {
		r.observe(f, OutcomeUnmapped)
		return true
	}
	if action.Message != "" {
		r.cfg.Notifier.Broadcast(action.Message)
	}
	if action.Relay != "" {
		r.relay(action)
	}
	logging.LogEvent("IR", "ACTION", f.String())
	r.observe(f, OutcomeAction)
	return true
}

func (r *Reactor) relay(action ircode.ActionEntry) {
	if r.cfg.Commands == nil || r.cfg.Transmitter == nil {
		log.Printf("IR: relay %q for 0x%X ignored, no transmitter", action.Relay, action.Code)
		return
	}
	entry, ok := r.cfg.Commands.Lookup(action.Relay)
	if !ok {
		log.Printf("IR: relay %q for 0x%X names no command", action.Relay, action.Code)
		return
	}
	if err := r.cfg.Transmitter.Transmit(entry.Command); err != nil {
		log.Printf("IR: relay %q failed: %v", entry.Key, err)
		return
	}
	log.Printf("IR: Relayed 0x%X to %q (%s)", action.Code, entry.Key, entry.Command)
}

func (r *Reactor) diagnostics() io.Writer {
	if r.cfg.Diagnostics != nil {
		return r.cfg.Diagnostics
	}
	return logging.Writer()
}

func (r *Reactor) observe(f ircode.Frame, o Outcome) {
	if r.cfg.Observer != nil {
		r.cfg.Observer.FrameHandled(f, o)
	}
}
