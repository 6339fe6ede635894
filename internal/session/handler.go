// Package session implements the command session lifecycle: greeting on
// connect, line dispatch against the command table, and the farewell on
// "bye".  All methods are meant to be called from the bridge loop.
package session

import (
	"errors"
	"log"
	"reflect"
	"sync"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
	"github.com/adumbdinosaur/irbridge/internal/logging"
)

const (
	ByeCommand   = "bye"
	FarewellLine = "> disconnecting you..."
)

// ErrSessionNotComparable rejects sessions that cannot be told apart by ==.
var ErrSessionNotComparable = errors.New("session type is not comparable")

// Session is one open command channel.  ID is the peer identity shown in
// the greeting.  Sessions are tracked by identity, so implementations must
// be comparable; pointer types always are.
type Session interface {
	ID() string
	SendLine(line string) error
	Close() error
}

// Transmitter sends one IR command.  Errors are reported but never change
// what the session sees.
type Transmitter interface {
	Transmit(cmd ircode.ProtocolCommand) error
}

// Observer receives counters for the metrics endpoint.  Optional.
type Observer interface {
	SessionsOpen(n int)
	CommandDispatched(key string, err error)
	LineEchoed()
}

// Greeting is the first line every new session receives.
func Greeting(peer string) string {
	return "Welcome " + peer
}

type Handler struct {
	commands *ircode.CommandTable
	tx       Transmitter
	observer Observer

	mu   sync.Mutex
	open []Session
}

func NewHandler(commands *ircode.CommandTable, tx Transmitter, observer Observer) *Handler {
	return &Handler{commands: commands, tx: tx, observer: observer}
}

// OnConnect marks s open and greets it.  A session of a non-comparable type
// is closed without a greeting.
func (h *Handler) OnConnect(s Session) {
	if !reflect.TypeOf(s).Comparable() {
		log.Printf("Session: rejecting %s: %v (%T)", s.ID(), ErrSessionNotComparable, s)
		if err := s.Close(); err != nil {
			log.Printf("Session: close %s: %v", s.ID(), err)
		}
		return
	}

	h.mu.Lock()
	if h.indexLocked(s) >= 0 {
		h.mu.Unlock()
		return
	}
	h.open = append(h.open, s)
	n := len(h.open)
	h.mu.Unlock()

	logging.LogEvent("SESSION", "CONNECT", s.ID())
	h.sessionsChanged(n)
	h.send(s, Greeting(s.ID()))
}

// OnInputLine dispatches one complete input line.  Lines for sessions that
// are not open are dropped.
func (h *Handler) OnInputLine(s Session, line string) {
	if !h.IsOpen(s) {
		return
	}

	if line == ByeCommand {
		h.send(s, FarewellLine)
		if err := s.Close(); err != nil {
			log.Printf("Session: close %s: %v", s.ID(), err)
		}
		h.forget(s)
		logging.LogEvent("SESSION", "BYE", s.ID())
		return
	}

	entry, ok := h.commands.Lookup(line)
	if !ok {
		h.send(s, line)
		if h.observer != nil {
			h.observer.LineEchoed()
		}
		return
	}

	err := h.tx.Transmit(entry.Command)
	if err != nil {
		log.Printf("Session: transmit %q (%s) failed: %v", entry.Key, entry.Command, err)
	} else {
		log.Printf("Session: %s sent %q (%s)", s.ID(), entry.Key, entry.Command)
	}
	if h.observer != nil {
		h.observer.CommandDispatched(entry.Key, err)
	}
	h.send(s, entry.Ack)
}

// OnDisconnect forgets s.  Later input for it is ignored.
func (h *Handler) OnDisconnect(s Session) {
	if h.forget(s) {
		logging.LogEvent("SESSION", "DISCONNECT", s.ID())
	}
}

// Broadcast sends line to every open session in connect order.
func (h *Handler) Broadcast(line string) {
	for _, s := range h.Sessions() {
		h.send(s, line)
	}
}

func (h *Handler) IsOpen(s Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.indexLocked(s) >= 0
}

// Sessions returns the open sessions in connect order.
func (h *Handler) Sessions() []Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Session, len(h.open))
	copy(out, h.open)
	return out
}

func (h *Handler) forget(s Session) bool {
	h.mu.Lock()
	i := h.indexLocked(s)
	if i < 0 {
		h.mu.Unlock()
		return false
	}
	h.open = append(h.open[:i], h.open[i+1:]...)
	n := len(h.open)
	h.mu.Unlock()

	h.sessionsChanged(n)
	return true
}

func (h *Handler) indexLocked(s Session) int {
	for i, o := range h.open {
		if o == s {
			return i
		}
	}
	return -1
}

func (h *Handler) sessionsChanged(n int) {
	if h.observer != nil {
		h.observer.SessionsOpen(n)
	}
}

func (h *Handler) send(s Session, line string) {
	if err := s.SendLine(line); err != nil {
		log.Printf("Session: write to %s failed: %v", s.ID(), err)
	}
}
