package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/matryer/is"
	"github.com/nextcaller/sip-guard/allowlist"
	"github.com/nextcaller/sip-guard/extract"
	"github.com/nextcaller/sip-guard/firewall"
	"github.com/nextcaller/sip-guard/testhelpers"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var errTimeout = fmt.Errorf("pcap read: %w", os.ErrDeadlineExceeded)

type result struct {
	frame []byte
	err   error
}

// scriptSource replays results, then cancels the test once they run out.
type scriptSource struct {
	sync.Mutex
	results []result
	cancel  context.CancelFunc
}

func (s *scriptSource) Next() ([]byte, error) {
	s.Lock()
	defer s.Unlock()
	if len(s.results) == 0 {
		s.cancel()
		return nil, errTimeout
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.frame, r.err
}

type testNotifier struct {
	sync.Mutex
	events []*Event
	err    error
}

func (n *testNotifier) Notify(_ context.Context, ev *Event) error {
	n.Lock()
	defer n.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func sipFrame(t *testing.T, src, ua string) []byte {
	t.Helper()
	msg := "REGISTER sip:pbx.example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP " + src + ":5060\r\n" +
		"User-Agent: " + ua + "\r\n" +
		"Content-Length: 0\r\n\r\n"

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.IPv4(192, 0, 2, 1).To4(),
	}
	udp := &layers.UDP{SrcPort: 5060, DstPort: 5060}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(msg)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	mem    *firewall.Memory
	fw     *firewall.Reconciler
	notes  *testNotifier
	logs   *testhelpers.LogBuf
	ctx    context.Context
	cancel context.CancelFunc
}

func newFixture() *fixture {
	logs := testhelpers.NewLogBuf()
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logs.Context(ctx)
	mem := firewall.NewMemory()
	return &fixture{
		mem:    mem,
		fw:     firewall.NewReconciler(mem, "", 5060),
		notes:  &testNotifier{},
		logs:   logs,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (f *fixture) dispatcher(src Source) *Dispatcher {
	return New(Config{
		Source:     src,
		Extract:    extract.NewExtracter().Extract,
		Allow:      allowlist.Default(),
		Enforcer:   f.fw,
		Notify:     f.notes.Notify,
		ErrorPause: time.Millisecond,
	})
}

func request(ip, ua string) *extract.Request {
	return &extract.Request{Source: net.ParseIP(ip), Method: layers.SIPMethodRegister, UserAgent: ua}
}

func TestHandle(t *testing.T) {
	is := is.New(t)
	f := newFixture()
	defer f.cancel()
	d := f.dispatcher(nil)

	is.Equal(d.Handle(f.ctx, request("203.0.113.7", "friendly-scanner")), ActionBlock)
	is.Equal(d.Handle(f.ctx, request("203.0.113.7", "friendly-scanner")), ActionNone)
	is.Equal(f.mem.Appends(), 1)

	is.Equal(d.Handle(f.ctx, request("203.0.113.7", "MicroSIP/3.20.7")), ActionUnblock)
	is.Equal(d.Handle(f.ctx, request("203.0.113.7", "MicroSIP/3.20.7")), ActionNone)
	is.Equal(len(f.mem.Rules(firewall.DefaultChain)), 0)

	is.Equal(len(f.notes.events), 2)
	is.Equal(f.notes.events[0].Action, ActionBlock)
	is.True(f.notes.events[0].Verified)
	is.Equal(f.notes.events[1].Action, ActionUnblock)
	is.Equal(f.notes.events[1].UserAgent, "MicroSIP/3.20.7")

	is.Equal(testutil.ToFloat64(d.metrics.Decisions.WithLabelValues("none")), 2.0)
	_, seen := d.Recent().Seen("203.0.113.7")
	is.True(seen)
}

func TestHandleFailure(t *testing.T) {
	is := is.New(t)
	f := newFixture()
	defer f.cancel()
	f.mem.AppendErr = errors.New("iptables: Permission denied")
	f.notes.err = errors.New("broker gone")
	d := f.dispatcher(nil)

	is.Equal(d.Handle(f.ctx, request("203.0.113.7", "sipvicious")), ActionFailed)
	is.Equal(len(f.notes.events), 1)
	is.True(strings.Contains(f.notes.events[0].Error, "Permission denied"))
	is.True(f.logs.Contains("block failed"))
	is.True(f.logs.Contains("publishing event failed"))
}

func TestHandleUnverifiedBlock(t *testing.T) {
	is := is.New(t)
	f := newFixture()
	defer f.cancel()
	f.mem.LoseAppends = true
	d := f.dispatcher(nil)

	is.Equal(d.Handle(f.ctx, request("203.0.113.7", "sipvicious")), ActionBlock)
	is.True(!f.notes.events[0].Verified)
	is.True(f.logs.Contains("not blocked after blocking"))
}

func TestRun(t *testing.T) {
	is := is.New(t)
	f := newFixture()
	src := &scriptSource{cancel: f.cancel, results: []result{
		{sipFrame(t, "203.0.113.7", "friendly-scanner"), nil},
		{nil, errTimeout},
		{[]byte("short"), nil},
		{nil, errors.New("interface went down")},
		{sipFrame(t, "198.51.100.1", "FreeSWITCH-mod_sofia/1.10.7"), nil},
		{sipFrame(t, "203.0.113.7", "friendly-scanner"), nil},
	}}
	d := f.dispatcher(src)

	err := d.Run(f.ctx)
	is.True(errors.Is(err, context.Canceled))

	rules := f.mem.Rules(firewall.DefaultChain)
	is.Equal(len(rules), 1)
	is.Equal(rules[0].Source.String(), "203.0.113.7")
	is.Equal(d.Recent().Len(), 2)
	is.Equal(testutil.ToFloat64(d.metrics.CaptureErrors), 1.0)
	is.Equal(testutil.ToFloat64(d.metrics.Timeouts), 2.0) // one scripted, one on exhaustion
	is.True(f.logs.Contains("interface went down"))
}

func TestStepSweeps(t *testing.T) {
	is := is.New(t)
	f := newFixture()
	defer f.cancel()

	now := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &scriptSource{cancel: func() {}}
	d := New(Config{
		Source:     src,
		Extract:    extract.NewExtracter().Extract,
		Allow:      allowlist.Default(),
		Enforcer:   f.fw,
		SweepEvery: 3,
		Now:        func() time.Time { return now },
	})
	d.Recent().Touch("192.0.2.10", now.Add(-2*time.Hour))
	d.Recent().Touch("192.0.2.11", now.Add(-time.Minute))

	st := &loopState{}
	d.step(f.ctx, st)
	d.step(f.ctx, st)
	is.Equal(d.Recent().Len(), 2) // not yet

	d.step(f.ctx, st)
	is.Equal(d.Recent().Len(), 1)
	_, ok := d.Recent().Seen("192.0.2.11")
	is.True(ok)
	is.Equal(st.idle, uint64(3))
}

func TestRecentSweep(t *testing.T) {
	is := is.New(t)
	now := time.Now()
	r := NewRecent(time.Hour)

	r.Touch("10.0.0.1", now.Add(-61*time.Minute))
	r.Touch("10.0.0.2", now.Add(-time.Hour))
	r.Touch("10.0.0.3", now.Add(-59*time.Minute))
	r.Touch("10.0.0.4", now)

	is.Equal(r.Sweep(now), 2)
	is.Equal(r.Len(), 2)
	_, ok := r.Seen("10.0.0.1")
	is.True(!ok)
	_, ok = r.Seen("10.0.0.3")
	is.True(ok)

	r.Touch("10.0.0.3", now) // refreshed entries survive later sweeps
	is.Equal(r.Sweep(now.Add(59*time.Minute)), 0)
}

func TestRecentTouchDuringSweep(t *testing.T) {
	is := is.New(t)
	now := time.Now()

	for trial := 0; trial < 50; trial++ {
		r := NewRecent(time.Hour)
		ips := make([]string, 200)
		for i := range ips {
			ips[i] = fmt.Sprintf("10.0.%d.%d", i/256, i%256)
			r.Touch(ips[i], now.Add(-2*time.Hour))
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, ip := range ips {
				r.Touch(ip, now)
			}
		}()
		r.Sweep(now)
		wg.Wait()

		// every address was refreshed, before or after the sweep
		is.Equal(r.Len(), len(ips))
	}
}
