// Package firewall keeps DROP rules in a packet filter chain in line with
// block and unblock decisions.
//
// The chain is external state that other tools (and operators) may change at
// any time, so nothing here caches what it believes the chain contains.  Every
// decision is made from a fresh query through a Control.
package firewall

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultChain is the chain rules are managed in when none is configured.
const DefaultChain = "INPUT"

// Rule describes a DROP rule for traffic from Source.  A zero Port drops all
// traffic from Source; otherwise only UDP traffic to Port is dropped.
type Rule struct {
	Source net.IP
	Port   int
}

// Spec renders r as an iptables rule specification.
func (r Rule) Spec() []string {
	spec := []string{"-s", r.Source.String()}
	if r.Port > 0 {
		spec = append(spec, "-p", "udp", "--dport", strconv.Itoa(r.Port))
	}
	return append(spec, "-j", "DROP")
}

// Equal reports whether r and o describe the same rule.
func (r Rule) Equal(o Rule) bool {
	return r.Source.Equal(o.Source) && r.Port == o.Port
}

func (r Rule) String() string {
	if r.Port > 0 {
		return fmt.Sprintf("%v udp/%d DROP", r.Source, r.Port)
	}
	return fmt.Sprintf("%v DROP", r.Source)
}

// Control is the set of operations needed against a firewall chain.  It
// mirrors what the iptables command line offers.
type Control interface {
	// Check reports whether exactly this rule exists.
	Check(chain string, r Rule) (bool, error)
	// Append adds r to the end of chain.
	Append(chain string, r Rule) error
	// List returns the chain in `iptables -L chain -n --line-numbers` form.
	List(chain string) (string, error)
	// DeleteNum removes the rule at 1-based position num.
	DeleteNum(chain string, num int) error
	// Delete removes the first rule matching r.
	Delete(chain string, r Rule) error
}
