package irdev

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
)

const (
	DefaultBaud        = 115200
	serialReplyTimeout = 2 * time.Second
	serialPollTimeout  = 100 * time.Millisecond
	serialMaxReply     = 256
)

var (
	ErrModemRejected = errors.New("IR modem rejected command")
	ErrModemTimeout  = errors.New("IR modem did not reply")
	ErrReplyTooLong  = errors.New("IR modem reply too long")
)

// Port is the subset of serial.Port used by the modem link.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

var openPort = func(name string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SerialTransmitter drives an IR modem that speaks a line protocol:
// "SEND <PROTOCOL> 0x<addr> 0x<cmd> <repeats>" answered by "OK" or
// "ERR <reason>".
type SerialTransmitter struct {
	name string
	mu   sync.Mutex
	port Port
}

func NewSerialTransmitter(name string, baud int) (*SerialTransmitter, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := openPort(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(serialPollTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("%s: read timeout: %w", name, err)
	}
	return &SerialTransmitter{name: name, port: p}, nil
}

func (t *SerialTransmitter) Transmit(cmd ircode.ProtocolCommand) error {
	if !cmd.Protocol.Recognized() {
		return fmt.Errorf("%w: %s", ErrUnsupportedProtocol, cmd.Protocol.Wire())
	}
	line := fmt.Sprintf("SEND %s 0x%X 0x%X %d\n", cmd.Protocol.Wire(), cmd.Address, cmd.Command, cmd.Repeats)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return ErrDeviceClosed
	}
	// A reply that arrived after an earlier timeout must not answer this command.
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serial flush %s: %w", t.name, err)
	}
	if _, err := io.WriteString(t.port, line); err != nil {
		return fmt.Errorf("serial write %s: %w", t.name, err)
	}

	reply, err := t.readReply(serialReplyTimeout)
	if err != nil {
		return err
	}
	switch {
	case reply == "OK":
		return nil
	case strings.HasPrefix(reply, "ERR"):
		return fmt.Errorf("%w: %s", ErrModemRejected, strings.TrimSpace(strings.TrimPrefix(reply, "ERR")))
	}
	return fmt.Errorf("%w: unexpected reply %q", ErrModemRejected, reply)
}

// readReply reads one line.  A timed-out serial read returns zero bytes and
// no error, so the deadline is enforced here, including while a chattering
// modem keeps sending bytes without a newline.
func (t *SerialTransmitter) readReply(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var sb strings.Builder
	b := make([]byte, 1)
	for {
		if time.Now().After(deadline) {
			return "", ErrModemTimeout
		}
		n, err := t.port.Read(b)
		if err != nil {
			return "", fmt.Errorf("serial read %s: %w", t.name, err)
		}
		if n == 0 {
			continue
		}
		if b[0] == '\n' {
			return strings.TrimRight(sb.String(), "\r"), nil
		}
		if sb.Len() >= serialMaxReply {
			return "", fmt.Errorf("%w: more than %d bytes", ErrReplyTooLong, serialMaxReply)
		}
		sb.WriteByte(b[0])
	}
}

func (t *SerialTransmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
