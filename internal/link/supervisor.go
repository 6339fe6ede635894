// Package link supervises network connectivity at startup.  The Supervisor
// polls a Link until it is up, blinking an indicator while it waits, and
// advertises the session service once its listener is bound.  When the retry budget runs out it asks a
// Restarter to start the process over.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/adumbdinosaur/irbridge/internal/logging"
)

// LinkState is the supervisor's view of connectivity.
type LinkState int

const (
	Disconnected LinkState = iota
	Connecting
	Connected
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("LinkState(%d)", int(s))
}

// Status is what a Link reports about itself on each poll.
type Status int

const (
	StatusDown Status = iota
	StatusConnecting
	StatusUp
)

var (
	ErrRetryBudgetExhausted = errors.New("link retry budget exhausted")
	ErrNoAddress            = errors.New("interface has no usable address")
)

// Credentials are handed to the link when connecting.  Passphrase is never
// logged.
type Credentials struct {
	SSID       string
	Passphrase string
}

type Link interface {
	Status() Status
	BeginConnect(creds Credentials) error
	Address() (net.IP, error)
}

// Indicator is a visible progress signal such as an LED.
type Indicator interface {
	Set(on bool) error
}

// Advertiser publishes the session service by name on the local network.
type Advertiser interface {
	Register(instance string, port int) error
	Shutdown()
}

// Restarter starts the process over.  Production implementations do not
// return on success.
type Restarter interface {
	Restart(reason string) error
}

// Config holds the polling parameters.
type Config struct {
	Credentials  Credentials
	PollInterval time.Duration
	RetryBudget  int
	Instance     string // advertised instance name
	Port         int    // advertised session port
}

type Supervisor struct {
	cfg        Config
	link       Link
	indicator  Indicator
	advertiser Advertiser
	restarter  Restarter

	wait func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	state      LinkState
	advertised bool
}

// NewSupervisor wires the collaborators.  A nil indicator is replaced with
// NopIndicator; a nil advertiser disables advertisement.
func NewSupervisor(cfg Config, l Link, ind Indicator, adv Advertiser, r Restarter) *Supervisor {
	if ind == nil {
		ind = NopIndicator{}
	}
	return &Supervisor{
		cfg:        cfg,
		link:       l,
		indicator:  ind,
		advertiser: adv,
		restarter:  r,
		wait:       sleepCtx,
		state:      Disconnected,
	}
}

// State returns the current link state.
func (s *Supervisor) State() LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st LinkState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Establish blocks until the link is up or the retry budget is spent.  The
// link is checked once immediately, then up to RetryBudget more times, each
// after waiting PollInterval and toggling the indicator.
func (s *Supervisor) Establish(ctx context.Context) (LinkState, error) {
	if s.State() == Connected {
		return Connected, nil
	}
	s.setState(Connecting)
	log.Printf("Link: Connecting (ssid=%q, budget=%d x %s)", s.cfg.Credentials.SSID, s.cfg.RetryBudget, s.cfg.PollInterval)

	if err := s.link.BeginConnect(s.cfg.Credentials); err != nil {
		log.Printf("Link: WARNING - begin connect failed: %v (polling anyway)", err)
	}

	if s.link.Status() == StatusUp {
		return s.connected(0), nil
	}

	lit := false
	for attempt := 1; attempt <= s.cfg.RetryBudget; attempt++ {
		if err := s.wait(ctx, s.cfg.PollInterval); err != nil {
			s.setIndicator(false)
			return s.State(), err
		}
		lit = !lit
		s.setIndicator(lit)
		if s.link.Status() == StatusUp {
			return s.connected(attempt), nil
		}
	}

	s.setIndicator(false)
	log.Println("Link: Failed to connect, restarting!")
	logging.LogEvent("LINK", "RESTART", fmt.Sprintf("no link after %d polls", s.cfg.RetryBudget))
	if err := s.restarter.Restart("link retry budget exhausted"); err != nil {
		log.Printf("Link: restart failed: %v", err)
	}
	s.setState(Disconnected)
	return Disconnected, ErrRetryBudgetExhausted
}

func (s *Supervisor) connected(attempts int) LinkState {
	s.setIndicator(false)
	s.setState(Connected)

	addr := "unknown"
	if ip, err := s.link.Address(); err != nil {
		log.Printf("Link: WARNING - could not read address: %v", err)
	} else {
		addr = ip.String()
	}
	logging.LogEvent("LINK", "CONNECTED", fmt.Sprintf("address=%s polls=%d", addr, attempts))

	return Connected
}

// Advertise registers the session service.  It is a no-op until the link is
// connected and after the first successful registration.  The caller may
// carry on without advertisement when it fails.
func (s *Supervisor) Advertise() error {
	if s.advertiser == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.advertised {
		return nil
	}
	if err := s.advertiser.Register(s.cfg.Instance, s.cfg.Port); err != nil {
		return fmt.Errorf("advertise %s: %w", s.cfg.Instance, err)
	}
	s.advertised = true
	log.Printf("Link: Advertised %s on port %d", s.cfg.Instance, s.cfg.Port)
	return nil
}

func (s *Supervisor) setIndicator(on bool) {
	if err := s.indicator.Set(on); err != nil {
		log.Printf("Link: indicator error: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StaticLink is always up.  It backs --dry-run and hosts whose network is
// managed elsewhere.
type StaticLink struct {
	IP net.IP
}

func (l StaticLink) Status() Status                 { return StatusUp }
func (l StaticLink) BeginConnect(Credentials) error { return nil }
func (l StaticLink) Address() (net.IP, error) {
	if l.IP == nil {
		return nil, ErrNoAddress
	}
	return l.IP, nil
}
