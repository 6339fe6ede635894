// Package bridge runs the single event loop that owns the session handler
// and the IR reactor.  Every tick services pending session events before
// polling the receiver, so a command typed in the same tick as an IR frame
// arrives is always handled first.
package bridge

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/adumbdinosaur/irbridge/internal/link"
	"github.com/adumbdinosaur/irbridge/internal/session"
	"github.com/adumbdinosaur/irbridge/internal/transport"
)

var ErrLinkNotConnected = errors.New("bridge: link is not connected")

const (
	DefaultInterval  = 5 * time.Millisecond
	DefaultMaxEvents = 16
)

// SessionHandler is the part of session.Handler the loop drives.
type SessionHandler interface {
	OnConnect(s session.Session)
	OnInputLine(s session.Session, line string)
	OnDisconnect(s session.Session)
}

// Poller is one reactor iteration.
type Poller interface {
	PollOnce() bool
}

// LinkState reports the supervisor outcome.
type LinkState interface {
	State() link.LinkState
}

type Config struct {
	Events    <-chan transport.Event
	Handler   SessionHandler
	Reactor   Poller
	Link      LinkState
	Interval  time.Duration
	MaxEvents int
}

type Bridge struct {
	events    <-chan transport.Event
	handler   SessionHandler
	reactor   Poller
	link      LinkState
	interval  time.Duration
	maxEvents int
}

func New(cfg Config) *Bridge {
	b := &Bridge{
		events:    cfg.Events,
		handler:   cfg.Handler,
		reactor:   cfg.Reactor,
		link:      cfg.Link,
		interval:  cfg.Interval,
		maxEvents: cfg.MaxEvents,
	}
	if b.interval <= 0 {
		b.interval = DefaultInterval
	}
	if b.maxEvents <= 0 {
		b.maxEvents = DefaultMaxEvents
	}
	return b
}

// Tick services at most maxEvents pending session events without blocking,
// then polls the reactor once.  It returns the number of events serviced and
// whether the reactor handled a frame.
func (b *Bridge) Tick() (int, bool) {
	n := 0
drain:
	for n < b.maxEvents {
		select {
		case ev, ok := <-b.events:
			if !ok {
				break drain
			}
			b.dispatch(ev)
			n++
		default:
			break drain
		}
	}
	return n, b.reactor.PollOnce()
}

func (b *Bridge) dispatch(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnect:
		b.handler.OnConnect(ev.Session)
	case transport.EventLine:
		b.handler.OnInputLine(ev.Session, ev.Line)
	case transport.EventDisconnect:
		b.handler.OnDisconnect(ev.Session)
	default:
		log.Printf("Bridge: ignoring %s event", ev.Kind)
	}
}

// Run ticks until ctx is done.  The loop only starts on a connected link;
// reaching steady state without one is a startup bug.
func (b *Bridge) Run(ctx context.Context) error {
	if b.link != nil && b.link.State() != link.Connected {
		return ErrLinkNotConnected
	}
	log.Printf("Bridge: Event loop running (interval %s, %d events per tick)", b.interval, b.maxEvents)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Bridge: Event loop stopped")
			return nil
		case <-ticker.C:
			b.Tick()
		}
	}
}
