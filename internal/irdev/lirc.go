package irdev

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
)

// <linux/lirc.h>
const (
	lircSetSendMode  = 0x40046911
	lircSetRecMode   = 0x40046912
	lircModeScancode = 0x8

	lircScancodeSize = 24
	lircFlagRepeat   = 2
)

// lircScancode mirrors struct lirc_scancode.
type lircScancode struct {
	Timestamp uint64
	Flags     uint16
	RCProto   uint16
	Keycode   uint32
	Scancode  uint64
}

func (s lircScancode) marshal() []byte {
	b := make([]byte, lircScancodeSize)
	binary.LittleEndian.PutUint64(b[0:8], s.Timestamp)
	binary.LittleEndian.PutUint16(b[8:10], s.Flags)
	binary.LittleEndian.PutUint16(b[10:12], s.RCProto)
	binary.LittleEndian.PutUint32(b[12:16], s.Keycode)
	binary.LittleEndian.PutUint64(b[16:24], s.Scancode)
	return b
}

func unmarshalScancode(b []byte) (lircScancode, error) {
	if len(b) < lircScancodeSize {
		return lircScancode{}, fmt.Errorf("short lirc_scancode: %d bytes", len(b))
	}
	return lircScancode{
		Timestamp: binary.LittleEndian.Uint64(b[0:8]),
		Flags:     binary.LittleEndian.Uint16(b[8:10]),
		RCProto:   binary.LittleEndian.Uint16(b[10:12]),
		Keycode:   binary.LittleEndian.Uint32(b[12:16]),
		Scancode:  binary.LittleEndian.Uint64(b[16:24]),
	}, nil
}

// lircFile is the subset of *os.File used on a /dev/lircN node.
type lircFile interface {
	io.ReadWriteCloser
	Fd() uintptr
}

var (
	openLirc = func(path string, flag int) (lircFile, error) {
		return os.OpenFile(path, flag, 0)
	}
	setLircMode = func(fd uintptr, req uint, mode int) error {
		return unix.IoctlSetPointerInt(int(fd), req, mode)
	}
)

func openScancodeMode(path string, flag int, req uint) (lircFile, error) {
	f, err := openLirc(path, flag)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := setLircMode(f.Fd(), req, lircModeScancode); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: scancode mode: %w", path, err)
	}
	return f, nil
}

// LircTransmitter hands scancodes to the kernel IR encoder.
type LircTransmitter struct {
	path string
	mu   sync.Mutex
	f    lircFile
}

func NewLircTransmitter(path string) (*LircTransmitter, error) {
	f, err := openScancodeMode(path, os.O_WRONLY, lircSetSendMode)
	if err != nil {
		return nil, err
	}
	return &LircTransmitter{path: path, f: f}, nil
}

// Transmit writes the frame repeats+1 times.  Protocols without a kernel
// encoder fail with ErrUnsupportedProtocol.
func (t *LircTransmitter) Transmit(cmd ircode.ProtocolCommand) error {
	rcProto, ok := cmd.Protocol.RCProto()
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedProtocol, cmd.Protocol.Wire(), t.path)
	}
	sc, err := cmd.Protocol.Scancode(cmd.Address, cmd.Command)
	if err != nil {
		return err
	}
	buf := lircScancode{RCProto: rcProto, Scancode: sc}.marshal()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return ErrDeviceClosed
	}
	for i := 0; i <= int(cmd.Repeats); i++ {
		if _, err := t.f.Write(buf); err != nil {
			return fmt.Errorf("lirc write %s: %w", t.path, err)
		}
	}
	return nil
}

func (t *LircTransmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}

// LircReceiver reads decoded scancodes from a LIRC device.
type LircReceiver struct {
	*Capture
	path string
	f    lircFile

	closeOnce sync.Once
}

func NewLircReceiver(path string) (*LircReceiver, error) {
	f, err := openScancodeMode(path, os.O_RDONLY, lircSetRecMode)
	if err != nil {
		return nil, err
	}
	return &LircReceiver{Capture: NewCapture(), path: path, f: f}, nil
}

// Run reads the device until ctx is done or the device fails.
func (r *LircReceiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()
	defer r.Close()

	log.Printf("IR: Listening on %s", r.path)
	buf := make([]byte, lircScancodeSize*16)
	for {
		n, err := r.f.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("lirc read %s: %w", r.path, err)
		}
		for off := 0; off+lircScancodeSize <= n; off += lircScancodeSize {
			r.handle(buf[off : off+lircScancodeSize])
		}
	}
}

func (r *LircReceiver) handle(raw []byte) {
	sc, err := unmarshalScancode(raw)
	if err != nil {
		return
	}
	proto := ircode.FromRCProto(sc.RCProto)
	frame := ircode.NewFrame(proto, sc.Scancode, sc.Flags&lircFlagRepeat != 0)
	dump := fmt.Sprintf("lirc %s rc_proto=%d scancode=0x%X flags=0x%X keycode=%d\n%s",
		r.path, sc.RCProto, sc.Scancode, sc.Flags, sc.Keycode, hex.Dump(raw))
	r.offer(frame, dump)
}

func (r *LircReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() { err = r.f.Close() })
	return err
}
