package ircode

import "fmt"

// Frame is one decode result.  It is a plain value: once copied out of a
// receiver it no longer shares anything with receiver-owned buffers.
type Frame struct {
	Protocol Protocol
	Address  uint16
	Command  uint16
	Raw      uint64 // scancode or raw payload bits as delivered by the decoder
	Repeat   bool
}

// NewFrame splits a scancode according to p's layout.
func NewFrame(p Protocol, scancode uint64, repeat bool) Frame {
	addr, cmd := p.Split(scancode)
	return Frame{Protocol: p, Address: addr, Command: cmd, Raw: scancode, Repeat: repeat}
}

func (f Frame) Recognized() bool { return f.Protocol.Recognized() }

func (f Frame) String() string {
	s := fmt.Sprintf("protocol=%s addr=0x%X cmd=0x%X raw=0x%X", f.Protocol.Wire(), f.Address, f.Command, f.Raw)
	if f.Repeat {
		s += " repeat"
	}
	return s
}

// SendUsage renders the command table entry that would transmit this frame
// again, ready to paste into the config file.
func (f Frame) SendUsage() string {
	return fmt.Sprintf("{key: <name>, protocol: %s, address: 0x%X, command: 0x%X, repeats: <n>, ack: <text>}",
		f.Protocol, f.Address, f.Command)
}
