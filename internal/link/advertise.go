package link

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ZeroconfAdvertiser registers the session service over mDNS/DNS-SD.
type ZeroconfAdvertiser struct {
	service string
	domain  string
	ifaces  []net.Interface

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewZeroconfAdvertiser limits announcements to iface when it exists;
// otherwise every multicast interface is used.
func NewZeroconfAdvertiser(service, domain, iface string) *ZeroconfAdvertiser {
	a := &ZeroconfAdvertiser{service: service, domain: domain}
	if iface != "" {
		if ifi, err := net.InterfaceByName(iface); err == nil {
			a.ifaces = []net.Interface{*ifi}
		}
	}
	return a
}

func (a *ZeroconfAdvertiser) Register(instance string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	srv, err := zeroconf.Register(instance, a.service, a.domain, port, []string{"txtvers=1", "proto=line"}, a.ifaces)
	if err != nil {
		return fmt.Errorf("mdns register %s.%s%s: %w", instance, a.service, a.domain, err)
	}
	a.server = srv
	return nil
}

func (a *ZeroconfAdvertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
