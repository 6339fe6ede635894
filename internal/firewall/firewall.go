// Package firewall guards the ports that open command sessions (the TCP
// session port and the HTTP port carrying /ws) with an nftables input
// chain: TCP to a guarded port is accepted from the allowed IPv4 prefixes
// and dropped from everywhere else.
package firewall

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"slices"
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

const (
	TableName = "irbridge"
	ChainName = "session-guard"
)

// Policy is the rule set installed for the guarded ports.
type Policy struct {
	Ports     []uint16
	AllowFrom []netip.Prefix
}

// ParsePolicy builds a Policy from config values.  Zero ports are skipped
// so a disabled HTTP listener can be passed as is; repeats are guarded once.
func ParsePolicy(ports []int, allowFrom []string) (Policy, error) {
	var p Policy
	for _, port := range ports {
		if port == 0 {
			continue
		}
		if port < 0 || port > 0xFFFF {
			return Policy{}, fmt.Errorf("invalid port %d", port)
		}
		if !slices.Contains(p.Ports, uint16(port)) {
			p.Ports = append(p.Ports, uint16(port))
		}
	}
	if len(p.Ports) == 0 {
		return Policy{}, errors.New("no port to guard")
	}
	for _, s := range allowFrom {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(s))
		if err != nil {
			return Policy{}, fmt.Errorf("invalid prefix %q: %w", s, err)
		}
		if !prefix.Addr().Is4() {
			return Policy{}, fmt.Errorf("prefix %q is not IPv4", s)
		}
		p.AllowFrom = append(p.AllowFrom, prefix.Masked())
	}
	return p, nil
}

// -- Interfaces for Testability --

type FirewallOps interface {
	Setup(p Policy) error
	Clear() error
}

// -- Real Implementations --

type RealFirewallOps struct{}

func (r *RealFirewallOps) Setup(p Policy) error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("failed to open nftables connection: %w", err)
	}
	table := conn.AddTable(&nftables.Table{Name: TableName, Family: nftables.TableFamilyIPv4})
	chain := conn.AddChain(&nftables.Chain{
		Name:     ChainName,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
	})

	for _, rule := range buildRules(p) {
		conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: rule})
	}

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("failed to apply firewall rules: %w", err)
	}
	log.Printf("Firewall: NFTables '%s' guarding ports %v for %d prefixes.", TableName, p.Ports, len(p.AllowFrom))
	return nil
}

func (r *RealFirewallOps) Clear() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("failed to open nftables connection: %w", err)
	}
	conn.DelTable(&nftables.Table{Name: TableName, Family: nftables.TableFamilyIPv4})
	if err := conn.Flush(); err != nil {
		// The table may never have been created.
		log.Printf("Firewall: nftables cleanup (may be harmless): %v", err)
		return nil
	}
	log.Printf("Firewall: NFTables '%s' table removed.", TableName)
	return nil
}

// buildRules returns, for each port, one accept rule per allowed prefix
// followed by the catch-all drop for that port.  Order matters: nftables
// evaluates rules in insertion order.
func buildRules(p Policy) [][]expr.Any {
	rules := make([][]expr.Any, 0, len(p.Ports)*(len(p.AllowFrom)+1))
	for _, port := range p.Ports {
		for _, prefix := range p.AllowFrom {
			rules = append(rules, buildAcceptExprs(port, prefix))
		}
		rules = append(rules, buildDropExprs(port))
	}
	return rules
}

// matchPort: meta l4proto tcp && tcp dport port
func matchPort(port uint16) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.IPPROTO_TCP}},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2, // TCP destination port
			Len:          2,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binary.BigEndian.AppendUint16(nil, port)},
	}
}

func buildAcceptExprs(port uint16, prefix netip.Prefix) []expr.Any {
	mask := prefixMask(prefix.Bits())
	network := prefix.Masked().Addr().As4()
	return append(matchPort(port),
		// ip saddr & mask == network
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       12, // IPv4 source address
			Len:          4,
		},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            4,
			Mask:           mask,
			Xor:            []byte{0, 0, 0, 0},
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: network[:]},
		&expr.Verdict{Kind: expr.VerdictAccept},
	)
}

func buildDropExprs(port uint16) []expr.Any {
	return append(matchPort(port), &expr.Verdict{Kind: expr.VerdictDrop})
}

func prefixMask(bits int) []byte {
	m := uint32(0)
	if bits > 0 {
		m = ^uint32(0) << (32 - bits)
	}
	return binary.BigEndian.AppendUint32(nil, m)
}

// -- Lifecycle --

var (
	fwOps FirewallOps = &RealFirewallOps{}

	active *Policy
)

// Init installs the guard for p, replacing any table left by a previous run.
func Init(p Policy) error {
	log.Println("Initializing Firewall Subsystem...")
	if err := fwOps.Clear(); err != nil {
		log.Printf("Firewall: stale table cleanup failed: %v", err)
	}
	if err := fwOps.Setup(p); err != nil {
		active = nil
		return err
	}
	active = &p
	return nil
}

// Active reports the installed policy, if any.
func Active() (Policy, bool) {
	if active == nil {
		return Policy{}, false
	}
	return *active, true
}

// Shutdown removes the table so rules don't outlive the daemon.
func Shutdown() error {
	if active == nil {
		return nil
	}
	active = nil
	return fwOps.Clear()
}
