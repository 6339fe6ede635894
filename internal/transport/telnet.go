package transport

import "io"

// Telnet command bytes (RFC 854).
const (
	tnSE   = 240
	tnSB   = 250
	tnWILL = 251
	tnDONT = 254
	tnIAC  = 255
)

const (
	stData = iota
	stIAC
	stOption
	stSub
	stSubIAC
)

// telnetFilter strips telnet negotiation from a byte stream so raw telnet
// clients and plain TCP clients look the same to the line scanner.  NUL
// bytes (sent after a bare CR) are dropped.
type telnetFilter struct {
	r     io.Reader
	state int
}

func (f *telnetFilter) Read(p []byte) (int, error) {
	for {
		n, err := f.r.Read(p)
		m := f.filter(p[:n])
		if m > 0 || err != nil {
			return m, err
		}
	}
}

// filter compacts buf in place and returns the number of data bytes kept.
func (f *telnetFilter) filter(buf []byte) int {
	out := 0
	for _, b := range buf {
		switch f.state {
		case stData:
			switch b {
			case tnIAC:
				f.state = stIAC
			case 0:
			default:
				buf[out] = b
				out++
			}
		case stIAC:
			switch {
			case b == tnIAC:
				buf[out] = b
				out++
				f.state = stData
			case b >= tnWILL && b <= tnDONT:
				f.state = stOption
			case b == tnSB:
				f.state = stSub
			default:
				f.state = stData
			}
		case stOption:
			f.state = stData
		case stSub:
			if b == tnIAC {
				f.state = stSubIAC
			}
		case stSubIAC:
			if b == tnSE {
				f.state = stData
			} else {
				f.state = stSub
			}
		}
	}
	return out
}
