package firewall

import (
	"bytes"
	"errors"
	"os/exec"
	"strconv"
)

// DefaultIPTables is the command used when no path is configured.
const DefaultIPTables = "iptables"

// runner executes a command, returning what it wrote to stdout and stderr.
type runner func(name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// IPTables is a Control that drives the iptables command line tool.
type IPTables struct {
	path string
	run  runner
}

// NewIPTables creates an IPTables using the binary at path, or
// DefaultIPTables if path is empty.
func NewIPTables(path string) *IPTables {
	if path == "" {
		path = DefaultIPTables
	}
	return &IPTables{path: path, run: execRunner}
}

func (t *IPTables) invoke(args ...string) (string, error) {
	stdout, stderr, err := t.run(t.path, args...)
	if err != nil {
		return "", &ToolError{
			Args:   append([]string{t.path}, args...),
			Stdout: string(stdout),
			Stderr: string(stderr),
			Err:    err,
		}
	}
	return string(stdout), nil
}

func ruleArgs(op, chain string, r Rule) []string {
	return append([]string{op, chain}, r.Spec()...)
}

// Check runs `iptables -C`.  Exit status 1 means the rule doesn't exist and
// is not an error.
func (t *IPTables) Check(chain string, r Rule) (bool, error) {
	_, err := t.invoke(ruleArgs("-C", chain, r)...)
	if err == nil {
		return true, nil
	}
	var exit interface{ ExitCode() int }
	if errors.As(err, &exit) && exit.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// Append runs `iptables -A`.
func (t *IPTables) Append(chain string, r Rule) error {
	_, err := t.invoke(ruleArgs("-A", chain, r)...)
	return err
}

// List runs `iptables -L <chain> -n --line-numbers`.
func (t *IPTables) List(chain string) (string, error) {
	return t.invoke("-L", chain, "-n", "--line-numbers")
}

// DeleteNum runs `iptables -D <chain> <num>`.
func (t *IPTables) DeleteNum(chain string, num int) error {
	_, err := t.invoke("-D", chain, strconv.Itoa(num))
	return err
}

// Delete runs `iptables -D` with the full rule specification.
func (t *IPTables) Delete(chain string, r Rule) error {
	_, err := t.invoke(ruleArgs("-D", chain, r)...)
	return err
}
