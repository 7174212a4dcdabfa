package firewall

import (
	"fmt"
	"strings"
	"sync"
)

// Memory is a Control backed by an in-process rule table.  It renders
// listings the way `iptables -L -n --line-numbers` does, so it goes through
// the same parsing paths as the real thing.  It is used for dry runs, where
// decisions are logged but the host firewall is left alone.
//
// The exported error and drift fields let callers simulate a misbehaving
// firewall; set them before the Memory is shared.
type Memory struct {
	// CheckErr, when set, is returned by every Check.
	CheckErr error
	// AppendErr, when set, is returned by every Append.
	AppendErr error
	// ListErr, when set, is returned by every List.
	ListErr error
	// DeleteNumErr, when set, is returned by every DeleteNum.
	DeleteNumErr error
	// DeleteErr, when set, is returned by every Delete.
	DeleteErr error
	// LoseAppends makes Append report success without adding the rule.
	LoseAppends bool
	// ServiceNames lists port 5060 as "sip", like iptables without -n.
	ServiceNames bool

	mu      sync.Mutex
	chains  map[string][]Rule
	appends int
	deletes int
}

// NewMemory creates a Memory holding the given, empty, chains.
func NewMemory(chains ...string) *Memory {
	m := &Memory{chains: map[string][]Rule{}}
	if len(chains) == 0 {
		chains = []string{DefaultChain}
	}
	for _, c := range chains {
		m.chains[c] = nil
	}
	return m
}

// Check reports whether an identical rule exists in chain.
func (m *Memory) Check(chain string, r Rule) (bool, error) {
	if m.CheckErr != nil {
		return false, m.CheckErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rules, ok := m.chains[chain]
	if !ok {
		return false, fmt.Errorf("%s: %w", chain, ErrNoChain)
	}
	return indexOf(rules, r) >= 0, nil
}

// Append adds r to the end of chain.
func (m *Memory) Append(chain string, r Rule) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chains[chain]; !ok {
		return fmt.Errorf("%s: %w", chain, ErrNoChain)
	}
	m.appends++
	if m.LoseAppends {
		return nil
	}
	m.chains[chain] = append(m.chains[chain], r)
	return nil
}

// List renders chain in `iptables -L -n --line-numbers` form.
func (m *Memory) List(chain string) (string, error) {
	if m.ListErr != nil {
		return "", m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rules, ok := m.chains[chain]
	if !ok {
		return "", fmt.Errorf("%s: %w", chain, ErrNoChain)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Chain %s (policy ACCEPT)\n", chain)
	fmt.Fprintf(&b, "%-4s %-10s %-4s %-3s %-20s %-20s\n", "num", "target", "prot", "opt", "source", "destination")
	for i, r := range rules {
		prot, match := "all", ""
		if r.Port > 0 {
			port := fmt.Sprint(r.Port)
			if m.ServiceNames && r.Port == sipPort {
				port = "sip"
			}
			prot, match = "udp", "udp dpt:"+port
		}
		line := fmt.Sprintf("%-4d %-10s %-4s %-3s %-20s %-20s %s", i+1, "DROP", prot, "--", r.Source, "0.0.0.0/0", match)
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// DeleteNum removes the rule at 1-based position num.
func (m *Memory) DeleteNum(chain string, num int) error {
	if m.DeleteNumErr != nil {
		return m.DeleteNumErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rules, ok := m.chains[chain]
	if !ok {
		return fmt.Errorf("%s: %w", chain, ErrNoChain)
	}
	if num < 1 || num > len(rules) {
		return fmt.Errorf("%s rule %d: %w", chain, num, ErrNoRule)
	}
	m.remove(chain, num-1)
	return nil
}

// Delete removes the first rule identical to r.
func (m *Memory) Delete(chain string, r Rule) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rules, ok := m.chains[chain]
	if !ok {
		return fmt.Errorf("%s: %w", chain, ErrNoChain)
	}
	i := indexOf(rules, r)
	if i < 0 {
		return fmt.Errorf("%s %v: %w", chain, r, ErrNoRule)
	}
	m.remove(chain, i)
	return nil
}

// Rules returns a copy of the rules in chain.
func (m *Memory) Rules(chain string) []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Rule(nil), m.chains[chain]...)
}

// Appends is how many times Append has been asked to add a rule.
func (m *Memory) Appends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

// Deletes is how many rules have been removed.
func (m *Memory) Deletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}

// remove must be called with mu held.
func (m *Memory) remove(chain string, i int) {
	rules := m.chains[chain]
	m.chains[chain] = append(rules[:i:i], rules[i+1:]...)
	m.deletes++
}

func indexOf(rules []Rule, r Rule) int {
	for i, o := range rules {
		if o.Equal(r) {
			return i
		}
	}
	return -1
}
