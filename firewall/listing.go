package firewall

import (
	"net"
	"strconv"
	"strings"
)

// sipPort is the only port that iptables may show by service name.
const sipPort = 5060

// isAddress reports whether a listing field is an address or CIDR block, as
// found in the source and destination columns.
func isAddress(f string) bool {
	if _, _, err := net.ParseCIDR(f); err == nil {
		return true
	}
	return net.ParseIP(f) != nil
}

// matchLine reports whether a line of `iptables -L -n` output is a DROP rule
// with ip as its source, and, if port is set, whether it references that port.  The port may
// appear as dpt:N, as a bare number, anywhere inside the match extensions, or
// as the "sip" service name for 5060.
func matchLine(line string, ip net.IP, port int) bool {
	fields := strings.Fields(line)
	addr := ip.String()

	var drop, src, seenAddr bool
	var extras []string
	for i, f := range fields {
		if _, err := strconv.Atoi(f); err == nil && i == 0 {
			// rule number
			continue
		}
		switch {
		case f == "DROP":
			drop = true
		case isAddress(f):
			// the source column comes before the destination.  Neither
			// can reference the port.
			if !seenAddr {
				src = f == addr || f == addr+"/32"
				seenAddr = true
			}
		default:
			extras = append(extras, f)
		}
	}
	if !drop || !src {
		return false
	}
	if port <= 0 {
		return true
	}

	p := strconv.Itoa(port)
	for _, f := range extras {
		if f == p || f == "dpt:"+p {
			return true
		}
	}
	rest := strings.Join(extras, " ")
	if strings.Contains(rest, p) {
		return true
	}
	return port == sipPort && strings.Contains(rest, "sip")
}

// matchingLines returns each line of listing that matches.
func matchingLines(listing string, ip net.IP, port int) []string {
	var out []string
	for _, line := range strings.Split(listing, "\n") {
		if matchLine(line, ip, port) {
			out = append(out, line)
		}
	}
	return out
}

// ruleNumber pulls the --line-numbers position from the front of a line.
func ruleNumber(line string) (int, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
