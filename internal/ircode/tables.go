package ircode

import "fmt"

// ProtocolCommand is one outbound transmission request.
type ProtocolCommand struct {
	Protocol Protocol `yaml:"protocol"`
	Address  uint16   `yaml:"address"`
	Command  uint16   `yaml:"command"`
	Repeats  uint8    `yaml:"repeats"`
}

func (c ProtocolCommand) String() string {
	return fmt.Sprintf("%s addr=0x%X cmd=0x%X repeats=%d", c.Protocol.Wire(), c.Address, c.Command, c.Repeats)
}

// CommandEntry maps a literal session input line to a transmission and the
// acknowledgment sent back to the session.
type CommandEntry struct {
	Key     string          `yaml:"key"`
	Command ProtocolCommand `yaml:",inline"`
	Ack     string          `yaml:"ack"`
}

// CommandTable is an ordered, immutable set of CommandEntry values.
// Lookup is exact and case-sensitive; the earliest entry wins.
type CommandTable struct {
	entries []CommandEntry
}

func NewCommandTable(entries ...CommandEntry) *CommandTable {
	cp := make([]CommandEntry, len(entries))
	copy(cp, entries)
	return &CommandTable{entries: cp}
}

func (t *CommandTable) Lookup(key string) (CommandEntry, bool) {
	for _, e := range t.entries {
		if e.Key == key {
			return e, true
		}
	}
	return CommandEntry{}, false
}

// Entries returns a copy of the table in lookup order.
func (t *CommandTable) Entries() []CommandEntry {
	cp := make([]CommandEntry, len(t.entries))
	copy(cp, t.entries)
	return cp
}

func (t *CommandTable) Len() int { return len(t.entries) }

// ActionEntry maps a received command code to a reaction.  Message is sent
// to every open session; Relay, when set, names a CommandEntry to transmit.
type ActionEntry struct {
	Code    uint16 `yaml:"code"`
	Message string `yaml:"message"`
	Relay   string `yaml:"relay,omitempty"`
}

// ActionTable is an ordered, immutable set of ActionEntry values keyed by
// command code.
type ActionTable struct {
	entries []ActionEntry
}

func NewActionTable(entries ...ActionEntry) *ActionTable {
	cp := make([]ActionEntry, len(entries))
	copy(cp, entries)
	return &ActionTable{entries: cp}
}

func (t *ActionTable) Lookup(code uint16) (ActionEntry, bool) {
	for _, e := range t.entries {
		if e.Code == code {
			return e, true
		}
	}
	return ActionEntry{}, false
}

func (t *ActionTable) Entries() []ActionEntry {
	cp := make([]ActionEntry, len(t.entries))
	copy(cp, t.entries)
	return cp
}
