package extract

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket/layers"
)

const (
	ethernetHeaderLen = 14
	minIPv4HeaderLen  = 20
	udpHeaderLen      = 8
)

// discard reasons, used as metric labels.
const (
	reasonNone      = ""
	reasonShort     = "short"
	reasonNotIPv4   = "not_ipv4"
	reasonBadIHL    = "bad_ihl"
	reasonNotUDP    = "not_udp"
	reasonTruncated = "truncated"
)

// networkOffset guesses where the IPv4 header starts.  Depending on the
// platform and interface, libpcap may or may not hand us an ethernet header,
// so check the ethertype first, then the IP version nibble, and otherwise
// assume ethernet framing and let the version check reject it.
func networkOffset(frame []byte) int {
	if len(frame) >= ethernetHeaderLen {
		if layers.EthernetType(binary.BigEndian.Uint16(frame[12:14])) == layers.EthernetTypeIPv4 {
			return ethernetHeaderLen
		}
		if frame[0]>>4 == 4 {
			return 0
		}
		return ethernetHeaderLen
	}
	return 0
}

func decodeFrame(frame []byte) (net.IP, []byte, string) {
	if len(frame) < minIPv4HeaderLen {
		return nil, nil, reasonShort
	}

	off := networkOffset(frame)
	if len(frame) < off+minIPv4HeaderLen {
		return nil, nil, reasonShort
	}
	ip := frame[off:]

	if ip[0]>>4 != 4 {
		return nil, nil, reasonNotIPv4
	}
	ihl := int(ip[0]&0x0f) * 4
	if ihl < minIPv4HeaderLen {
		return nil, nil, reasonBadIHL
	}
	if layers.IPProtocol(ip[9]) != layers.IPProtocolUDP {
		return nil, nil, reasonNotUDP
	}

	start := off + ihl + udpHeaderLen
	if len(frame) < start {
		return nil, nil, reasonTruncated
	}

	src := make(net.IP, net.IPv4len)
	copy(src, ip[12:16])
	payload := make([]byte, len(frame)-start)
	copy(payload, frame[start:])
	return src, payload, reasonNone
}

// DecodeFrame locates the IPv4 and UDP headers in a captured frame, which may
// or may not begin with an ethernet header, and returns the network-layer
// source address along with a copy of the UDP payload.  Frames that aren't
// IPv4/UDP, or are too short to hold the headers they claim, return ok=false.
//
// The source address only ever comes from the IPv4 header; nothing in the
// payload is consulted.
func DecodeFrame(frame []byte) (src net.IP, payload []byte, ok bool) {
	src, payload, reason := decodeFrame(frame)
	return src, payload, reason == reasonNone
}
