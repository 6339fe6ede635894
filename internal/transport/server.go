// Package transport carries command sessions over TCP (telnet-style line
// protocol) and WebSocket.  Reader goroutines only produce Events; the
// bridge loop consumes them and owns every reaction.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/adumbdinosaur/irbridge/internal/session"
)

type EventKind int

const (
	EventConnect EventKind = iota
	EventLine
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventLine:
		return "line"
	case EventDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one session occurrence, in arrival order per session.
type Event struct {
	Kind    EventKind
	Session session.Session
	Line    string
}

const DefaultWriteTimeout = 2 * time.Second

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("transport: server closed")

// sink delivers events to the bridge until the server context ends.
type sink struct {
	ch chan<- Event
}

func (s sink) emit(ctx context.Context, ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Server accepts TCP sessions on the command port.
type Server struct {
	listener     net.Listener
	slots        *Slots
	events       sink
	writeTimeout time.Duration

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// Listen binds addr.  Every session holds one of slots, which may be shared
// with other transports; clients beyond the cap wait until a slot frees.
func Listen(addr string, slots *Slots, events chan<- Event, writeTimeout time.Duration) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if n := slots.Size(); n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Server{
		listener:     ln,
		slots:        slots,
		events:       sink{ch: events},
		writeTimeout: writeTimeout,
		conns:        make(map[*Conn]struct{}),
	}, nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if a, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Serve accepts connections until ctx is done, then closes every open
// session and waits for their readers.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	log.Printf("Transport: Listening on %s", s.listener.Addr())
	for {
		c, err := s.listener.Accept()
		if err != nil {
			s.closeAll()
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}
		conn := newConn(c, s.writeTimeout)
		s.track(conn, true)
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

// Close tears down the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handle(ctx context.Context, conn *Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer conn.Close()

	if err := s.slots.Acquire(ctx); err != nil {
		return
	}
	defer s.slots.Release()

	if !s.events.emit(ctx, Event{Kind: EventConnect, Session: conn}) {
		return
	}

	sc := bufio.NewScanner(&telnetFilter{r: conn.c})
	for sc.Scan() {
		if !s.events.emit(ctx, Event{Kind: EventLine, Session: conn, Line: sc.Text()}) {
			return
		}
	}
	s.events.emit(ctx, Event{Kind: EventDisconnect, Session: conn})
}

func (s *Server) track(c *Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Conn is one TCP session.
type Conn struct {
	c            net.Conn
	id           string
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newConn(c net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{c: c, id: peerID(c.RemoteAddr()), writeTimeout: writeTimeout}
}

// ID is the peer IP address.
func (c *Conn) ID() string { return c.id }

// SendLine writes line terminated by CRLF.
func (c *Conn) SendLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.c.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_, err := c.c.Write([]byte(line + "\r\n"))
	return err
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.c.Close()
}

func peerID(a net.Addr) string {
	if a == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}
