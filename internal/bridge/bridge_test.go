package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adumbdinosaur/irbridge/internal/link"
	"github.com/adumbdinosaur/irbridge/internal/session"
	"github.com/adumbdinosaur/irbridge/internal/transport"
)

// -- Mocks --

type trace struct{ calls []string }

func (t *trace) add(s string) { t.calls = append(t.calls, s) }

type MockHandler struct {
	tr *trace
}

func (m *MockHandler) OnConnect(s session.Session)                { m.tr.add("connect " + s.ID()) }
func (m *MockHandler) OnInputLine(s session.Session, line string) { m.tr.add("line " + line) }
func (m *MockHandler) OnDisconnect(s session.Session)             { m.tr.add("disconnect " + s.ID()) }

type MockPoller struct {
	tr         *trace
	PollFunc   func() bool
	PollCalled int
}

func (m *MockPoller) PollOnce() bool {
	m.PollCalled++
	m.tr.add("poll")
	if m.PollFunc != nil {
		return m.PollFunc()
	}
	return false
}

type MockSession struct{ id string }

func (m *MockSession) ID() string            { return m.id }
func (m *MockSession) SendLine(string) error { return nil }
func (m *MockSession) Close() error          { return nil }

type fixedState link.LinkState

func (s fixedState) State() link.LinkState { return link.LinkState(s) }

func newTestBridge(events chan transport.Event, maxEvents int) (*Bridge, *trace, *MockPoller) {
	tr := &trace{}
	p := &MockPoller{tr: tr}
	b := New(Config{
		Events:    events,
		Handler:   &MockHandler{tr: tr},
		Reactor:   p,
		Link:      fixedState(link.Connected),
		MaxEvents: maxEvents,
	})
	return b, tr, p
}

func TestTick_SessionEventsBeforeFrame(t *testing.T) {
	events := make(chan transport.Event, 8)
	b, tr, _ := newTestBridge(events, 16)

	s := &MockSession{id: "192.168.1.77"}
	events <- transport.Event{Kind: transport.EventConnect, Session: s}
	events <- transport.Event{Kind: transport.EventLine, Session: s, Line: "r"}
	events <- transport.Event{Kind: transport.EventDisconnect, Session: s}

	n, _ := b.Tick()
	if n != 3 {
		t.Errorf("serviced %d events, want 3", n)
	}
	want := []string{"connect 192.168.1.77", "line r", "disconnect 192.168.1.77", "poll"}
	if diff := cmp.Diff(want, tr.calls); diff != "" {
		t.Errorf("tick order mismatch (-want +got):\n%s", diff)
	}
}

func TestTick_BoundedDrain(t *testing.T) {
	events := make(chan transport.Event, 8)
	b, tr, p := newTestBridge(events, 2)

	s := &MockSession{id: "peer"}
	for _, l := range []string{"a", "b", "c"} {
		events <- transport.Event{Kind: transport.EventLine, Session: s, Line: l}
	}

	if n, _ := b.Tick(); n != 2 {
		t.Errorf("first tick serviced %d events, want 2", n)
	}
	if n, _ := b.Tick(); n != 1 {
		t.Errorf("second tick serviced %d events, want 1", n)
	}
	if p.PollCalled != 2 {
		t.Errorf("reactor polled %d times, want once per tick", p.PollCalled)
	}
	want := []string{"line a", "line b", "poll", "line c", "poll"}
	if diff := cmp.Diff(want, tr.calls); diff != "" {
		t.Errorf("tick order mismatch (-want +got):\n%s", diff)
	}
}

func TestTick_IdleStillPolls(t *testing.T) {
	b, _, p := newTestBridge(make(chan transport.Event), 4)
	p.PollFunc = func() bool { return true }

	n, handled := b.Tick()
	if n != 0 || !handled {
		t.Errorf("Tick() = %d, %v; want 0, true", n, handled)
	}
}

func TestTick_ClosedChannel(t *testing.T) {
	events := make(chan transport.Event)
	close(events)
	b, _, p := newTestBridge(events, 4)

	if n, _ := b.Tick(); n != 0 {
		t.Errorf("closed channel yielded %d events", n)
	}
	if p.PollCalled != 1 {
		t.Error("reactor not polled")
	}
}

func TestRun_RequiresConnectedLink(t *testing.T) {
	b := New(Config{
		Events:  make(chan transport.Event),
		Handler: &MockHandler{tr: &trace{}},
		Reactor: &MockPoller{tr: &trace{}},
		Link:    fixedState(link.Disconnected),
	})
	if err := b.Run(context.Background()); !errors.Is(err, ErrLinkNotConnected) {
		t.Errorf("expected ErrLinkNotConnected, got %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	b, _, p := newTestBridge(make(chan transport.Event), 4)
	polled := make(chan struct{}, 1)
	p.PollFunc = func() bool {
		select {
		case polled <- struct{}{}:
		default:
		}
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never ticked")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	if b.interval != DefaultInterval || b.maxEvents != DefaultMaxEvents {
		t.Errorf("defaults not applied: interval=%s maxEvents=%d", b.interval, b.maxEvents)
	}
}
