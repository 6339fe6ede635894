// Package config provides the irbridged configuration: link supervision
// parameters, the session listener, IR device selection and the command and
// action tables.  Both the daemon and the CLI read the same file.
package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
)

const (
	// DefaultPath is where irbridged looks for its config file.
	DefaultPath = "/etc/irbridge/config.yaml"

	// EnvPath overrides DefaultPath when no --config flag is given.
	EnvPath = "IRBRIDGE_CONFIG"

	// ReservedKey ends a session and can never be a command key.
	ReservedKey = "bye"
)

// Receiver and transmitter driver names.
const (
	DriverLIRC   = "lirc"
	DriverEvdev  = "evdev"
	DriverSerial = "serial"
	DriverLog    = "log"
	DriverNone   = "none"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the whole irbridged configuration file.
type Config struct {
	Link             LinkConfig            `yaml:"link"`
	Session          SessionConfig         `yaml:"session"`
	Advertise        AdvertiseConfig       `yaml:"advertise"`
	IR               IRConfig              `yaml:"ir"`
	Commands         []ircode.CommandEntry `yaml:"commands"`
	Actions          []ircode.ActionEntry  `yaml:"actions"`
	Firewall         FirewallConfig        `yaml:"firewall"`
	HTTP             HTTPConfig            `yaml:"http"`
	LoopInterval     time.Duration         `yaml:"loop_interval"`
	MaxEventsPerTick int                   `yaml:"max_events_per_tick"`
}

// LinkConfig drives the connectivity supervisor.
type LinkConfig struct {
	Interface    string        `yaml:"interface"`
	Netns        string        `yaml:"netns,omitempty"` // named network namespace, empty = current
	SSID         string        `yaml:"ssid,omitempty"`
	Passphrase   string        `yaml:"passphrase,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RetryBudget  int           `yaml:"retry_budget"`
	LED          string        `yaml:"led,omitempty"` // /sys/class/leds/<led>, empty = no indicator
}

type SessionConfig struct {
	Listen       string        `yaml:"listen"`
	MaxSessions  int           `yaml:"max_sessions"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Port returns the numeric TCP port of Listen.
func (s SessionConfig) Port() (int, error) { return listenPort(s.Listen) }

func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 0xFFFF {
		return 0, fmt.Errorf("invalid port %q", port)
	}
	return n, nil
}

type AdvertiseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

type IRConfig struct {
	Receiver    ReceiverConfig    `yaml:"receiver"`
	Transmitter TransmitterConfig `yaml:"transmitter"`
}

type ReceiverConfig struct {
	Driver string `yaml:"driver"`
	Device string `yaml:"device,omitempty"`
	// Protocol labels evdev scancodes; rc-core input devices do not report it.
	Protocol     ircode.Protocol `yaml:"protocol,omitempty"`
	RepeatWindow time.Duration   `yaml:"repeat_window"`
}

type TransmitterConfig struct {
	Driver string `yaml:"driver"`
	Device string `yaml:"device,omitempty"`
	Baud   int    `yaml:"baud,omitempty"`
}

// FirewallConfig restricts the session and HTTP ports to the listed IPv4
// prefixes.
type FirewallConfig struct {
	Enabled   bool     `yaml:"enabled"`
	AllowFrom []string `yaml:"allow_from"`
}

// HTTPConfig serves /metrics, /healthz and /ws.  An empty Listen disables it.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// Port returns the numeric TCP port of Listen, 0 when HTTP is disabled.
func (h HTTPConfig) Port() (int, error) {
	if h.Listen == "" {
		return 0, nil
	}
	return listenPort(h.Listen)
}

// FileOps is abstracted for testing.
type FileOps interface {
	ReadFile(name string) ([]byte, error)
}

type RealFileOps struct{}

func (r *RealFileOps) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

var (
	fsOps FileOps = &RealFileOps{}
	mu    sync.Mutex
)

// Default returns the stock configuration: a 60 second link budget polled
// every 250ms, a single telnet session on port 23, and the AVR and projector
// command set.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			Interface:    "wlan0",
			PollInterval: 250 * time.Millisecond,
			RetryBudget:  240,
		},
		Session: SessionConfig{
			Listen:       ":23",
			MaxSessions:  1,
			WriteTimeout: 2 * time.Second,
		},
		Advertise: AdvertiseConfig{
			Enabled:  true,
			Instance: "irbridge",
			Service:  "_telnet._tcp",
			Domain:   "local.",
		},
		IR: IRConfig{
			Receiver: ReceiverConfig{
				Driver:       DriverLIRC,
				Device:       "/dev/lirc0",
				RepeatWindow: 200 * time.Millisecond,
			},
			Transmitter: TransmitterConfig{
				Driver: DriverLIRC,
				Device: "/dev/lirc0",
			},
		},
		Commands: []ircode.CommandEntry{
			{
				Key:     "r",
				Command: ircode.ProtocolCommand{Protocol: ircode.ProtocolKaseikyoDenon, Address: 0x514, Command: 0x0, Repeats: 3},
				Ack:     "> sending Kaseikyo Denon command: AVR ON",
			},
			{
				Key:     "p1",
				Command: ircode.ProtocolCommand{Protocol: ircode.ProtocolNEC, Address: 0x32, Command: 0x2, Repeats: 3},
				Ack:     "> sending NEC command Projector ON",
			},
			{
				Key:     "p2",
				Command: ircode.ProtocolCommand{Protocol: ircode.ProtocolNEC, Address: 0x32, Command: 0x2E, Repeats: 3},
				Ack:     "> sending NEC command Projector OFF",
			},
		},
		Actions: []ircode.ActionEntry{
			{Code: 0x10, Message: "Received command 0x10."},
			{Code: 0x11, Message: "Received command 0x11."},
		},
		HTTP:             HTTPConfig{Listen: ":8080"},
		LoopInterval:     5 * time.Millisecond,
		MaxEventsPerTick: 16,
	}
}

// ResolvePath picks the config file: explicit flag, then $IRBRIDGE_CONFIG,
// then DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads the config file at path on top of Default().  A missing file
// yields Default().  The result is validated.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	cfg := Default()
	data, err := fsOps.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("Config: %s not found, using defaults", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Printf("Config: Loaded %s (%d commands, %d actions, rx=%s, tx=%s)",
		path, len(cfg.Commands), len(cfg.Actions), cfg.IR.Receiver.Driver, cfg.IR.Transmitter.Driver)
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// CommandTable builds the immutable lookup table from the config.
func (c *Config) CommandTable() *ircode.CommandTable {
	return ircode.NewCommandTable(c.Commands...)
}

func (c *Config) ActionTable() *ircode.ActionTable {
	return ircode.NewActionTable(c.Actions...)
}

// Validate reports every problem found, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Link.Interface == "" {
		add("link.interface is required")
	}
	if c.Link.PollInterval <= 0 {
		add("link.poll_interval must be positive")
	}
	if c.Link.RetryBudget < 0 {
		add("link.retry_budget must not be negative")
	}
	if c.Session.Listen == "" {
		add("session.listen is required")
	} else if _, err := c.Session.Port(); err != nil {
		add("session.listen: %v", err)
	}
	if c.Session.MaxSessions < 1 {
		add("session.max_sessions must be at least 1")
	}
	if _, err := c.HTTP.Port(); err != nil {
		add("http.listen: %v", err)
	}
	if c.LoopInterval <= 0 {
		add("loop_interval must be positive")
	}
	if c.MaxEventsPerTick < 1 {
		add("max_events_per_tick must be at least 1")
	}

	switch c.IR.Receiver.Driver {
	case DriverLIRC, DriverEvdev:
		if c.IR.Receiver.Device == "" {
			add("ir.receiver.device is required for driver %q", c.IR.Receiver.Driver)
		}
	case DriverNone:
	default:
		add("ir.receiver.driver %q is not one of lirc, evdev, none", c.IR.Receiver.Driver)
	}

	switch c.IR.Transmitter.Driver {
	case DriverLIRC, DriverSerial:
		if c.IR.Transmitter.Device == "" {
			add("ir.transmitter.device is required for driver %q", c.IR.Transmitter.Driver)
		}
	case DriverLog:
	default:
		add("ir.transmitter.driver %q is not one of lirc, serial, log", c.IR.Transmitter.Driver)
	}

	keys := make(map[string]bool, len(c.Commands))
	for i, e := range c.Commands {
		switch {
		case e.Key == "":
			add("commands[%d]: key is empty", i)
		case e.Key == ReservedKey:
			add("commands[%d]: key %q is reserved", i, e.Key)
		case strings.TrimSpace(e.Key) != e.Key:
			add("commands[%d]: key %q has surrounding whitespace", i, e.Key)
		case keys[e.Key]:
			add("commands[%d]: duplicate key %q", i, e.Key)
		}
		keys[e.Key] = true

		if !e.Command.Protocol.Recognized() {
			add("commands[%d]: protocol is required", i)
		} else if _, err := e.Command.Protocol.Scancode(e.Command.Address, e.Command.Command); err != nil {
			add("commands[%d]: %v", i, err)
		}
	}

	codes := make(map[uint16]bool, len(c.Actions))
	for i, a := range c.Actions {
		if codes[a.Code] {
			add("actions[%d]: duplicate code 0x%X", i, a.Code)
		}
		codes[a.Code] = true
		if a.Relay != "" && !keys[a.Relay] {
			add("actions[%d]: relay %q names no command", i, a.Relay)
		}
		if a.Message == "" && a.Relay == "" {
			add("actions[%d]: needs a message or a relay", i)
		}
	}

	if c.Firewall.Enabled {
		if len(c.Firewall.AllowFrom) == 0 {
			add("firewall.allow_from is required when the firewall is enabled")
		}
		for _, s := range c.Firewall.AllowFrom {
			p, err := netip.ParsePrefix(s)
			if err != nil || !p.Addr().Is4() {
				add("firewall.allow_from %q is not an IPv4 prefix", s)
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
