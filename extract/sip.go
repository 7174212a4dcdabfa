package extract

import (
	"net"
	"strings"
	"unicode/utf8"

	"github.com/google/gopacket/layers"
)

// UnknownUserAgent is reported when a request carries no usable User-Agent.
const UnknownUserAgent = "Unknown"

// Request is an actionable SIP request: a REGISTER or INVITE along with the
// client software it claims to be.
type Request struct {
	Source    net.IP
	Method    layers.SIPMethod
	UserAgent string
}

// actionable reports whether requests with method m should be acted on.
func actionable(m layers.SIPMethod) bool {
	return m == layers.SIPMethodRegister || m == layers.SIPMethodInvite
}

// sipMethod pulls the method token from the start of a request line.  The
// token must be immediately followed by whitespace and spelled exactly as a
// known upper case SIP method.
func sipMethod(text string) (layers.SIPMethod, bool) {
	end := strings.IndexAny(text, " \t\r\n")
	if end <= 0 {
		return 0, false
	}
	tok := text[:end]
	m, err := layers.GetSIPMethod(tok)
	if err != nil || m.String() != tok {
		return 0, false
	}
	return m, true
}

// userAgent finds the first User-Agent header in the header block.
func userAgent(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			// end of headers
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "user-agent") {
			continue
		}
		if ua := strings.TrimSpace(value); ua != "" {
			return ua
		}
	}
	return UnknownUserAgent
}

// parseSIP returns the method token found and, if it's actionable, the
// Request.  known is false when the payload isn't SIP at all.
func parseSIP(payload []byte, src net.IP) (req *Request, method layers.SIPMethod, known bool) {
	if !utf8.Valid(payload) {
		return nil, 0, false
	}
	text := string(payload)

	m, ok := sipMethod(text)
	if !ok {
		return nil, 0, false
	}
	if !actionable(m) {
		return nil, m, true
	}

	return &Request{
		Source:    src,
		Method:    m,
		UserAgent: userAgent(text),
	}, m, true
}

// ParseSIP inspects a UDP payload and returns a Request if, and only if, it is
// a SIP REGISTER or INVITE.  Binary data, non-SIP text and other SIP methods
// all return ok=false.  The Request's Source is always src.
func ParseSIP(payload []byte, src net.IP) (*Request, bool) {
	req, _, _ := parseSIP(payload, src)
	return req, req != nil
}
