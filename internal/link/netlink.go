package link

import (
	"fmt"
	"log"
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// NetlinkOps is abstracted for testing.
type NetlinkOps interface {
	LinkByName(name string) (netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
}

// RealNetlinkOps talks to the kernel through a netlink handle, optionally
// bound to a named network namespace.
type RealNetlinkOps struct {
	h *netlink.Handle
}

func NewNetlinkOps(nsName string) (*RealNetlinkOps, error) {
	if nsName == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return nil, fmt.Errorf("netlink handle: %w", err)
		}
		return &RealNetlinkOps{h: h}, nil
	}

	ns, err := netns.GetFromName(nsName)
	if err != nil {
		return nil, fmt.Errorf("netns %q: %w", nsName, err)
	}
	defer ns.Close()

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return nil, fmt.Errorf("netlink handle in %q: %w", nsName, err)
	}
	return &RealNetlinkOps{h: h}, nil
}

func (r *RealNetlinkOps) LinkByName(name string) (netlink.Link, error) {
	return r.h.LinkByName(name)
}
func (r *RealNetlinkOps) LinkSetUp(link netlink.Link) error {
	return r.h.LinkSetUp(link)
}
func (r *RealNetlinkOps) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return r.h.AddrList(link, family)
}
func (r *RealNetlinkOps) Close() { r.h.Close() }

// NetlinkLink reports an interface's status from its operational state and
// IPv4 addresses.  Association is left to the system supplicant; this type
// only brings the interface up and watches it.
type NetlinkLink struct {
	ops   NetlinkOps
	iface string
}

func NewNetlinkLink(ops NetlinkOps, iface string) *NetlinkLink {
	return &NetlinkLink{ops: ops, iface: iface}
}

func (n *NetlinkLink) Status() Status {
	l, err := n.ops.LinkByName(n.iface)
	if err != nil {
		return StatusDown
	}
	attrs := l.Attrs()

	switch attrs.OperState {
	case netlink.OperUp:
		if n.hasAddress(l) {
			return StatusUp
		}
		return StatusConnecting
	case netlink.OperUnknown:
		// Drivers without carrier reporting stay in "unknown" while usable.
		if attrs.Flags&net.FlagUp == 0 {
			return StatusDown
		}
		if n.hasAddress(l) {
			return StatusUp
		}
		return StatusConnecting
	case netlink.OperDormant, netlink.OperTesting:
		return StatusConnecting
	}
	return StatusDown
}

func (n *NetlinkLink) BeginConnect(creds Credentials) error {
	l, err := n.ops.LinkByName(n.iface)
	if err != nil {
		return fmt.Errorf("interface %s: %w", n.iface, err)
	}
	if l.Attrs().Flags&net.FlagUp == 0 {
		if err := n.ops.LinkSetUp(l); err != nil {
			return fmt.Errorf("set %s up: %w", n.iface, err)
		}
		log.Printf("Link: Brought %s up", n.iface)
	}
	if creds.SSID != "" {
		log.Printf("Link: Waiting for %s to associate with %q", n.iface, creds.SSID)
	}
	return nil
}

func (n *NetlinkLink) Address() (net.IP, error) {
	l, err := n.ops.LinkByName(n.iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", n.iface, err)
	}
	ip := n.firstAddress(l)
	if ip == nil {
		return nil, fmt.Errorf("%s: %w", n.iface, ErrNoAddress)
	}
	return ip, nil
}

func (n *NetlinkLink) hasAddress(l netlink.Link) bool {
	return n.firstAddress(l) != nil
}

func (n *NetlinkLink) firstAddress(l netlink.Link) net.IP {
	addrs, err := n.ops.AddrList(l, netlink.FAMILY_V4)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if a.IPNet != nil && a.IP.IsGlobalUnicast() {
			return a.IP
		}
	}
	return nil
}
