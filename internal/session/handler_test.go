package session

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
)

// -- Mocks --

type MockSession struct {
	Peer         string
	SendLineFunc func(line string) error
	Lines        []string
	Closed       int
}

func (m *MockSession) ID() string { return m.Peer }
func (m *MockSession) SendLine(line string) error {
	m.Lines = append(m.Lines, line)
	if m.SendLineFunc != nil {
		return m.SendLineFunc(line)
	}
	return nil
}
func (m *MockSession) Close() error {
	m.Closed++
	return nil
}

type MockTransmitter struct {
	TransmitFunc func(cmd ircode.ProtocolCommand) error
	Sent         []ircode.ProtocolCommand
}

func (m *MockTransmitter) Transmit(cmd ircode.ProtocolCommand) error {
	m.Sent = append(m.Sent, cmd)
	if m.TransmitFunc != nil {
		return m.TransmitFunc(cmd)
	}
	return nil
}

type MockObserver struct {
	Open       []int
	Dispatched []string
	Failed     int
	Echoed     int
}

func (m *MockObserver) SessionsOpen(n int) { m.Open = append(m.Open, n) }
func (m *MockObserver) CommandDispatched(key string, err error) {
	m.Dispatched = append(m.Dispatched, key)
	if err != nil {
		m.Failed++
	}
}
func (m *MockObserver) LineEchoed() { m.Echoed++ }

// valueSession is a session held by value whose type cannot be compared.
type valueSession struct {
	peer   string
	tags   []string
	closed *int
}

func (v valueSession) ID() string            { return v.peer }
func (v valueSession) SendLine(string) error { return nil }
func (v valueSession) Close() error          { *v.closed++; return nil }

var (
	avrOn   = ircode.ProtocolCommand{Protocol: ircode.ProtocolKaseikyoDenon, Address: 0x514, Command: 0x0, Repeats: 3}
	projOn  = ircode.ProtocolCommand{Protocol: ircode.ProtocolNEC, Address: 0x32, Command: 0x2, Repeats: 3}
	projOff = ircode.ProtocolCommand{Protocol: ircode.ProtocolNEC, Address: 0x32, Command: 0x2E, Repeats: 3}
)

func testTable() *ircode.CommandTable {
	return ircode.NewCommandTable(
		ircode.CommandEntry{Key: "r", Command: avrOn, Ack: "> sending Kaseikyo Denon command: AVR ON"},
		ircode.CommandEntry{Key: "p1", Command: projOn, Ack: "> sending NEC command Projector ON"},
		ircode.CommandEntry{Key: "p2", Command: projOff, Ack: "> sending NEC command Projector OFF"},
	)
}

// -- Tests --

func TestConnectGreets(t *testing.T) {
	obs := &MockObserver{}
	h := NewHandler(testTable(), &MockTransmitter{}, obs)
	s := &MockSession{Peer: "192.0.2.7"}

	h.OnConnect(s)

	if diff := cmp.Diff([]string{"Welcome 192.0.2.7"}, s.Lines); diff != "" {
		t.Errorf("greeting mismatch (-want +got):\n%s", diff)
	}
	if !h.IsOpen(s) {
		t.Error("session should be open after connect")
	}

	h.OnConnect(s)
	if len(s.Lines) != 1 {
		t.Error("a second connect for the same session must not greet again")
	}
	if diff := cmp.Diff([]int{1}, obs.Open); diff != "" {
		t.Errorf("open gauge mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioHelloAVRBye(t *testing.T) {
	tx := &MockTransmitter{}
	h := NewHandler(testTable(), tx, nil)
	s := &MockSession{Peer: "10.0.0.2"}

	h.OnConnect(s)
	for _, line := range []string{"hello", "r", "bye"} {
		h.OnInputLine(s, line)
	}

	want := []string{
		"Welcome 10.0.0.2",
		"hello",
		"> sending Kaseikyo Denon command: AVR ON",
		"> disconnecting you...",
	}
	if diff := cmp.Diff(want, s.Lines); diff != "" {
		t.Errorf("emissions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ircode.ProtocolCommand{avrOn}, tx.Sent); diff != "" {
		t.Errorf("transmissions mismatch (-want +got):\n%s", diff)
	}
	if s.Closed != 1 {
		t.Errorf("session closed %d times, want 1", s.Closed)
	}
	if h.IsOpen(s) {
		t.Error("session must be closed after bye")
	}
}

func TestEchoIsIdempotentAndTransmitsNothing(t *testing.T) {
	tx := &MockTransmitter{}
	obs := &MockObserver{}
	h := NewHandler(testTable(), tx, obs)
	s := &MockSession{Peer: "p"}
	h.OnConnect(s)
	s.Lines = nil

	for _, line := range []string{"hello", "hello", "R", " r", "", "byebye"} {
		h.OnInputLine(s, line)
	}

	want := []string{"hello", "hello", "R", " r", "", "byebye"}
	if diff := cmp.Diff(want, s.Lines); diff != "" {
		t.Errorf("echo mismatch (-want +got):\n%s", diff)
	}
	if len(tx.Sent) != 0 {
		t.Errorf("echo must not transmit, got %v", tx.Sent)
	}
	if obs.Echoed != 6 {
		t.Errorf("echo count = %d", obs.Echoed)
	}
}

func TestEachEntryTransmitsOnceThenAcks(t *testing.T) {
	for _, e := range testTable().Entries() {
		t.Run(e.Key, func(t *testing.T) {
			var order []string
			s := &MockSession{Peer: "p", SendLineFunc: func(line string) error {
				order = append(order, "ack:"+line)
				return nil
			}}
			tx := &MockTransmitter{TransmitFunc: func(cmd ircode.ProtocolCommand) error {
				order = append(order, "tx:"+cmd.String())
				return nil
			}}
			h := NewHandler(testTable(), tx, nil)
			h.OnConnect(s)
			order = nil

			h.OnInputLine(s, e.Key)

			want := []string{"tx:" + e.Command.String(), "ack:" + e.Ack}
			if diff := cmp.Diff(want, order); diff != "" {
				t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
			}
			if s.Closed != 0 {
				t.Error("command lines must not close the session")
			}
		})
	}
}

func TestTransmitFailureStillAcks(t *testing.T) {
	tx := &MockTransmitter{TransmitFunc: func(ircode.ProtocolCommand) error { return errors.New("no encoder") }}
	obs := &MockObserver{}
	h := NewHandler(testTable(), tx, obs)
	s := &MockSession{Peer: "p"}
	h.OnConnect(s)

	h.OnInputLine(s, "r")

	if s.Lines[len(s.Lines)-1] != "> sending Kaseikyo Denon command: AVR ON" {
		t.Errorf("last line = %q, want the ack", s.Lines[len(s.Lines)-1])
	}
	if obs.Failed != 1 || len(obs.Dispatched) != 1 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestLinesAfterDisconnectAreIgnored(t *testing.T) {
	tx := &MockTransmitter{}
	h := NewHandler(testTable(), tx, nil)
	s := &MockSession{Peer: "p"}
	h.OnConnect(s)
	h.OnDisconnect(s)
	s.Lines = nil

	h.OnInputLine(s, "p1")
	h.OnInputLine(s, "hello")
	h.OnInputLine(s, "bye")

	if len(s.Lines) != 0 || len(tx.Sent) != 0 || s.Closed != 0 {
		t.Errorf("closed session produced effects: lines=%v sent=%v closed=%d", s.Lines, tx.Sent, s.Closed)
	}

	// Never-connected sessions are ignored as well.
	stranger := &MockSession{Peer: "q"}
	h.OnInputLine(stranger, "hello")
	if len(stranger.Lines) != 0 {
		t.Error("input from an unknown session must be ignored")
	}
}

func TestLinesAfterByeAreIgnored(t *testing.T) {
	tx := &MockTransmitter{}
	h := NewHandler(testTable(), tx, nil)
	s := &MockSession{Peer: "p"}
	h.OnConnect(s)
	h.OnInputLine(s, "bye")
	h.OnInputLine(s, "r")

	if len(tx.Sent) != 0 {
		t.Error("no transmit after bye")
	}
	// A transport disconnect that follows bye is harmless.
	h.OnDisconnect(s)
}

func TestBroadcastReachesOpenSessionsInOrder(t *testing.T) {
	var order []string
	mk := func(id string) *MockSession {
		return &MockSession{Peer: id, SendLineFunc: func(line string) error {
			order = append(order, id+":"+line)
			return nil
		}}
	}
	a, b, c := mk("a"), mk("b"), mk("c")
	h := NewHandler(testTable(), &MockTransmitter{}, nil)
	h.OnConnect(a)
	h.OnConnect(b)
	h.OnConnect(c)
	h.OnDisconnect(b)
	order = nil

	h.Broadcast("Received command 0x10.")

	want := []string{"a:Received command 0x10.", "c:Received command 0x10."}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("broadcast mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteFailureDoesNotAbort(t *testing.T) {
	s := &MockSession{Peer: "p", SendLineFunc: func(string) error { return errors.New("broken pipe") }}
	tx := &MockTransmitter{}
	h := NewHandler(testTable(), tx, nil)
	h.OnConnect(s)
	h.OnInputLine(s, "p2")

	if diff := cmp.Diff([]ircode.ProtocolCommand{projOff}, tx.Sent); diff != "" {
		t.Errorf("transmissions mismatch (-want +got):\n%s", diff)
	}
}

func TestNonComparableSessionIsRejected(t *testing.T) {
	obs := &MockObserver{}
	h := NewHandler(testTable(), &MockTransmitter{}, obs)
	other := &MockSession{Peer: "192.0.2.1"}
	h.OnConnect(other)

	closed := 0
	v := valueSession{peer: "192.0.2.9", closed: &closed}
	h.OnConnect(v)
	h.OnInputLine(v, "p1")
	h.OnDisconnect(v)

	if closed != 1 {
		t.Errorf("rejected session closed %d times, want 1", closed)
	}
	if h.IsOpen(v) {
		t.Error("non-comparable session must not be opened")
	}
	if got := h.Sessions(); len(got) != 1 || got[0] != Session(other) {
		t.Errorf("open sessions = %v", got)
	}
	if diff := cmp.Diff([]int{1}, obs.Open); diff != "" {
		t.Errorf("open gauge mismatch (-want +got):\n%s", diff)
	}
}
