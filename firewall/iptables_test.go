package firewall

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/matryer/is"
)

// exitError mimics *exec.ExitError for a given status.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitError) ExitCode() int { return int(e) }

type call struct {
	name string
	args string
}

// fakeRun records invocations and replays canned results keyed by the first
// argument.
type fakeRun struct {
	calls   []call
	stdout  map[string]string
	stderr  map[string]string
	results map[string]error
}

func (f *fakeRun) run(name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name, strings.Join(args, " ")})
	op := args[0]
	return []byte(f.stdout[op]), []byte(f.stderr[op]), f.results[op]
}

func newFakeIPTables(f *fakeRun) *IPTables {
	t := NewIPTables("/sbin/iptables")
	t.run = f.run
	return t
}

func TestIPTablesArgs(t *testing.T) {
	is := is.New(t)
	f := &fakeRun{}
	ipt := newFakeIPTables(f)
	ip := net.IPv4(203, 0, 113, 7)

	_, _ = ipt.Check("INPUT", Rule{Source: ip, Port: 5060})
	_ = ipt.Append("INPUT", Rule{Source: ip})
	_, _ = ipt.List("INPUT")
	_ = ipt.DeleteNum("INPUT", 3)
	_ = ipt.Delete("SIPGUARD", Rule{Source: ip, Port: 5080})

	is.Equal(f.calls, []call{
		{"/sbin/iptables", "-C INPUT -s 203.0.113.7 -p udp --dport 5060 -j DROP"},
		{"/sbin/iptables", "-A INPUT -s 203.0.113.7 -j DROP"},
		{"/sbin/iptables", "-L INPUT -n --line-numbers"},
		{"/sbin/iptables", "-D INPUT 3"},
		{"/sbin/iptables", "-D SIPGUARD -s 203.0.113.7 -p udp --dport 5080 -j DROP"},
	})
}

func TestIPTablesCheck(t *testing.T) {
	testCases := map[string]struct {
		err     error
		found   bool
		wantErr bool
	}{
		"exists":       {nil, true, false},
		"missing":      {exitError(1), false, false},
		"bad usage":    {exitError(2), false, true},
		"no such file": {errors.New("exec: \"iptables\": executable file not found in $PATH"), false, true},
	}

	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			ipt := newFakeIPTables(&fakeRun{results: map[string]error{"-C": tc.err}})

			found, err := ipt.Check("INPUT", Rule{Source: net.IPv4(1, 2, 3, 4)})
			is.Equal(found, tc.found)
			is.Equal(err != nil, tc.wantErr)
		})
	}
}

func TestIPTablesToolError(t *testing.T) {
	is := is.New(t)
	f := &fakeRun{
		stderr:  map[string]string{"-A": "iptables v1.8.7 (nf_tables): Chain 'NOPE' does not exist\n"},
		results: map[string]error{"-A": exitError(2)},
	}
	ipt := newFakeIPTables(f)

	err := ipt.Append("NOPE", Rule{Source: net.IPv4(1, 2, 3, 4)})
	var te *ToolError
	is.True(errors.As(err, &te))
	is.Equal(te.Args[0], "/sbin/iptables")
	is.True(strings.Contains(te.Stderr, "does not exist"))
	is.True(strings.Contains(err.Error(), "Chain 'NOPE' does not exist"))
}

func TestReconcilerWithIPTablesListing(t *testing.T) {
	is := is.New(t)
	listing := `Chain INPUT (policy ACCEPT)
num  target     prot opt source               destination
1    ACCEPT     all  --  0.0.0.0/0            0.0.0.0/0            state RELATED,ESTABLISHED
2    DROP       udp  --  203.0.113.70         0.0.0.0/0            udp dpt:5060
3    DROP       udp  --  203.0.113.7          0.0.0.0/0            udp dpt:5060
`
	f := &fakeRun{
		stdout:  map[string]string{"-L": listing},
		results: map[string]error{"-C": exitError(1)},
	}
	r := NewReconciler(newFakeIPTables(f), "INPUT", 5060)

	is.NoErr(r.Unblock(testContext(), net.IPv4(203, 0, 113, 7)))
	last := f.calls[len(f.calls)-1]
	is.Equal(last.args, "-D INPUT 3")
}
