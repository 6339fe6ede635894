package irdev

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
)

// EvdevReceiver turns rc-core input events into frames.  Each MSC_SCAN
// followed by SYN_REPORT is one frame.  rc-core does not report the
// protocol, so frames carry the configured one; with none configured every
// frame is unrecognized.
type EvdevReceiver struct {
	*Capture
	dev    InputDevice
	proto  ircode.Protocol
	window time.Duration
	now    func() time.Time

	scan     uint64
	haveScan bool
	pressed  bool
	last     uint64
	lastAt   time.Time
	haveLast bool

	closeOnce sync.Once
}

func NewEvdevReceiver(device string, proto ircode.Protocol, repeatWindow time.Duration) (*EvdevReceiver, error) {
	path, err := ResolveInputDevice(device)
	if err != nil {
		return nil, err
	}
	dev, err := evOps.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return newEvdevReceiver(dev, proto, repeatWindow), nil
}

func newEvdevReceiver(dev InputDevice, proto ircode.Protocol, repeatWindow time.Duration) *EvdevReceiver {
	return &EvdevReceiver{
		Capture: NewCapture(),
		dev:     dev,
		proto:   proto,
		window:  repeatWindow,
		now:     time.Now,
	}
}

func (r *EvdevReceiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()
	defer r.Close()

	log.Printf("IR: Listening on %s (%s, protocol=%s)", r.dev.Name(), r.dev.Path(), r.proto)
	for {
		ev, err := r.dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("evdev read %s: %w", r.dev.Path(), err)
		}
		r.handle(ev)
	}
}

func (r *EvdevReceiver) handle(ev *evdev.InputEvent) {
	switch ev.Type {
	case evdev.EV_MSC:
		if ev.Code == evdev.MSC_SCAN {
			r.scan = uint64(uint32(ev.Value))
			r.haveScan = true
		}
	case evdev.EV_KEY:
		if ev.Value == 1 {
			r.pressed = true
		}
	case evdev.EV_SYN:
		if ev.Code == evdev.SYN_REPORT && r.haveScan {
			r.emit()
		}
		r.haveScan = false
		r.pressed = false
	}
}

// emit classifies the pending scancode.  A group without a key press that
// repeats the previous scancode inside the window is a repeat.
func (r *EvdevReceiver) emit() {
	now := r.now()
	repeat := !r.pressed && r.haveLast && r.scan == r.last && now.Sub(r.lastAt) <= r.window

	frame := ircode.NewFrame(r.proto, r.scan, repeat)
	dump := fmt.Sprintf("evdev %s scancode=0x%X key_press=%v\n", r.dev.Path(), r.scan, r.pressed)
	r.offer(frame, dump)

	r.last = r.scan
	r.lastAt = now
	r.haveLast = true
}

func (r *EvdevReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() { err = r.dev.Close() })
	return err
}
