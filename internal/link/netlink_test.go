package link

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/vishvananda/netlink"
)

// -- Mocks --

type MockNetlinkOps struct {
	LinkByNameFunc func(name string) (netlink.Link, error)
	LinkSetUpFunc  func(link netlink.Link) error
	AddrListFunc   func(link netlink.Link, family int) ([]netlink.Addr, error)
	SetUpCalls     int
}

func (m *MockNetlinkOps) LinkByName(name string) (netlink.Link, error) {
	if m.LinkByNameFunc != nil {
		return m.LinkByNameFunc(name)
	}
	return &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: name, Index: 2}}, nil
}
func (m *MockNetlinkOps) LinkSetUp(link netlink.Link) error {
	m.SetUpCalls++
	if m.LinkSetUpFunc != nil {
		return m.LinkSetUpFunc(link)
	}
	return nil
}
func (m *MockNetlinkOps) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	if m.AddrListFunc != nil {
		return m.AddrListFunc(link, family)
	}
	return nil, nil
}

func device(oper netlink.LinkOperState, flags net.Flags) func(string) (netlink.Link, error) {
	return func(name string) (netlink.Link, error) {
		return &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: name, Index: 2, OperState: oper, Flags: flags}}, nil
	}
}

func addrs(ips ...string) func(netlink.Link, int) ([]netlink.Addr, error) {
	return func(link netlink.Link, family int) ([]netlink.Addr, error) {
		if family != netlink.FAMILY_V4 {
			return nil, errors.New("unexpected family")
		}
		var out []netlink.Addr
		for _, s := range ips {
			out = append(out, netlink.Addr{IPNet: &net.IPNet{IP: net.ParseIP(s), Mask: net.CIDRMask(24, 32)}})
		}
		return out, nil
	}
}

// -- Tests --

func TestNetlinkLinkStatus(t *testing.T) {
	tests := []struct {
		name  string
		oper  netlink.LinkOperState
		flags net.Flags
		ips   []string
		want  Status
	}{
		{"up with address", netlink.OperUp, net.FlagUp, []string{"192.168.1.20"}, StatusUp},
		{"up link-local only", netlink.OperUp, net.FlagUp, []string{"169.254.3.4"}, StatusConnecting},
		{"up without address", netlink.OperUp, net.FlagUp, nil, StatusConnecting},
		{"dormant", netlink.OperDormant, net.FlagUp, []string{"192.168.1.20"}, StatusConnecting},
		{"unknown carrier with address", netlink.OperUnknown, net.FlagUp, []string{"10.0.0.5"}, StatusUp},
		{"unknown admin down", netlink.OperUnknown, 0, []string{"10.0.0.5"}, StatusDown},
		{"down", netlink.OperDown, net.FlagUp, []string{"10.0.0.5"}, StatusDown},
		{"lower layer down", netlink.OperLowerLayerDown, 0, nil, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := &MockNetlinkOps{LinkByNameFunc: device(tt.oper, tt.flags), AddrListFunc: addrs(tt.ips...)}
			got := NewNetlinkLink(ops, "wlan0").Status()
			if got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNetlinkLinkMissingInterface(t *testing.T) {
	ops := &MockNetlinkOps{LinkByNameFunc: func(string) (netlink.Link, error) {
		return nil, errors.New("Link not found")
	}}
	l := NewNetlinkLink(ops, "wlan9")
	if l.Status() != StatusDown {
		t.Error("missing interface must be down")
	}
	if err := l.BeginConnect(Credentials{}); err == nil {
		t.Error("BeginConnect should fail for a missing interface")
	}
}

func TestNetlinkLinkBeginConnectSetsUp(t *testing.T) {
	ops := &MockNetlinkOps{LinkByNameFunc: device(netlink.OperDown, 0)}
	if err := NewNetlinkLink(ops, "wlan0").BeginConnect(Credentials{SSID: "home"}); err != nil {
		t.Fatalf("BeginConnect() error = %v", err)
	}
	if ops.SetUpCalls != 1 {
		t.Errorf("LinkSetUp calls = %d, want 1", ops.SetUpCalls)
	}

	ops = &MockNetlinkOps{LinkByNameFunc: device(netlink.OperUp, net.FlagUp)}
	if err := NewNetlinkLink(ops, "wlan0").BeginConnect(Credentials{}); err != nil {
		t.Fatal(err)
	}
	if ops.SetUpCalls != 0 {
		t.Error("an admin-up interface must not be set up again")
	}
}

func TestNetlinkLinkAddress(t *testing.T) {
	ops := &MockNetlinkOps{
		LinkByNameFunc: device(netlink.OperUp, net.FlagUp),
		AddrListFunc:   addrs("169.254.1.1", "192.168.4.7"),
	}
	ip, err := NewNetlinkLink(ops, "wlan0").Address()
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}
	if !ip.Equal(net.IPv4(192, 168, 4, 7)) {
		t.Errorf("Address() = %v", ip)
	}

	ops.AddrListFunc = addrs()
	if _, err := NewNetlinkLink(ops, "wlan0").Address(); !errors.Is(err, ErrNoAddress) {
		t.Errorf("Address() error = %v, want ErrNoAddress", err)
	}
}

type MockFileOps struct {
	WriteFileFunc func(name string, data []byte, perm os.FileMode) error
	Writes        []string
	Paths         []string
}

func (m *MockFileOps) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.Paths = append(m.Paths, name)
	m.Writes = append(m.Writes, string(data))
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(name, data, perm)
	}
	return nil
}

func TestSysfsLED(t *testing.T) {
	m := &MockFileOps{}
	orig := fsOps
	fsOps = m
	defer func() { fsOps = orig }()

	led := NewSysfsLED("status:blue")
	led.Set(true)
	led.Set(false)

	if len(m.Writes) != 2 || m.Writes[0] != "1" || m.Writes[1] != "0" {
		t.Errorf("writes = %v", m.Writes)
	}
	if m.Paths[0] != "/sys/class/leds/status:blue/brightness" {
		t.Errorf("path = %s", m.Paths[0])
	}

	m.WriteFileFunc = func(string, []byte, os.FileMode) error { return os.ErrPermission }
	if err := led.Set(true); !errors.Is(err, os.ErrPermission) {
		t.Errorf("Set() error = %v", err)
	}
}

func TestExecRestarter(t *testing.T) {
	origExe, origExec := executable, execve
	defer func() { executable, execve = origExe, origExec }()

	var gotPath string
	executable = func() (string, error) { return "/usr/sbin/irbridged", nil }
	execve = func(argv0 string, argv []string, envv []string) error {
		gotPath = argv0
		return errors.New("exec format error")
	}

	err := ExecRestarter{}.Restart("test")
	if err == nil {
		t.Fatal("a failed exec must be reported")
	}
	if gotPath != "/usr/sbin/irbridged" {
		t.Errorf("exec path = %q", gotPath)
	}
}
