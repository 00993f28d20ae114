package spa_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/spad-project/gospad/internal/spa"
)

type fakeFirewall struct {
	installedSrcIP  net.IP
	installedPorts  []spa.ProtoPort
	installCalls    int
}

func (f *fakeFirewall) InstallAccess(_ context.Context, useSrcIP net.IP, _ time.Duration, ports []spa.ProtoPort, _ []spa.ProtoPort) error {
	f.installCalls++
	f.installedSrcIP = useSrcIP
	f.installedPorts = ports
	return nil
}
func (f *fakeFirewall) CheckAndExpireRules(context.Context, bool) error { return nil }
func (f *fakeFirewall) CleanupAll(context.Context) error                { return nil }

type fakeCommands struct {
	calls int
}

func (c *fakeCommands) Run(context.Context, string, time.Duration) (int, string, error) {
	c.calls++
	return 0, "", nil
}
func (c *fakeCommands) RunAs(context.Context, int, int, string, time.Duration) (int, string, error) {
	c.calls++
	return 0, "", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, stanza *spa.Stanza) (*spa.Pipeline, *fakeFirewall, *memStore) {
	t.Helper()

	fw := &fakeFirewall{}
	store := newMemStore()

	p := &spa.Pipeline{
		Config: spa.Config{
			Evaluator: spa.EvaluatorConfig{
				AllowLegacyAccessRequests: true,
				PacketAgingEnabled:        true,
				MaxSPAPacketAge:           120 * time.Second,
				NATSupported:              true,
				LocalNATSupported:         true,
				CheckPortAccess:           true,
				CheckServiceAccess:        true,
			},
		},
		Stanzas:     spa.NewStanzaSet([]*spa.Stanza{stanza}),
		ReplayStore: store,
		Catalog:     spa.DefaultServiceCatalog(),
		Firewall:    fw,
		Commands:    &fakeCommands{},
		Logger:      testLogger(),
		Now:         func() time.Time { return time.Unix(1700000000, 0) },
	}
	return p, fw, store
}

func testStanza() *spa.Stanza {
	_, cidr, _ := net.ParseCIDR("192.168.1.0/24")
	return &spa.Stanza{
		Name:          "test-stanza",
		SrcIPs:        []*net.IPNet{cidr},
		SymmetricKey:  []byte("test_key_12345"),
		HMACKey:       []byte("hmac_key_67890"),
		HMACAlgorithm: spa.HMACSHA256,
		PermittedPorts: []spa.ProtoPort{
			{Proto: "tcp", Port: 22},
		},
	}
}

func TestPipeline_HappyPathSymmetric(t *testing.T) {
	t.Parallel()

	stanza := testStanza()
	p, fw, _ := newTestPipeline(t, stanza)

	body := encodeSymmetricFixture(t, stanza.SymmetricKey, stanza.HMACKey,
		[]byte("1234:alice:1700000000:2.0.3:1:192.168.1.7,tcp/22"))

	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 54321}
	err := p.IncomingSPA(context.Background(), body, src, net.ParseIP("10.0.0.1"), 62201)
	if err != nil {
		t.Fatalf("IncomingSPA: %v", err)
	}

	if fw.installCalls != 1 {
		t.Fatalf("installCalls = %d, want 1", fw.installCalls)
	}
	if fw.installedSrcIP.String() != "192.168.1.7" {
		t.Errorf("installedSrcIP = %v, want 192.168.1.7", fw.installedSrcIP)
	}
}

func TestPipeline_Replay(t *testing.T) {
	t.Parallel()

	stanza := testStanza()
	p, fw, _ := newTestPipeline(t, stanza)

	body := encodeSymmetricFixture(t, stanza.SymmetricKey, stanza.HMACKey,
		[]byte("1234:alice:1700000000:2.0.3:1:192.168.1.7,tcp/22"))
	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 54321}

	if err := p.IncomingSPA(context.Background(), body, src, net.ParseIP("10.0.0.1"), 62201); err != nil {
		t.Fatalf("first IncomingSPA: %v", err)
	}

	err := p.IncomingSPA(context.Background(), body, src, net.ParseIP("10.0.0.1"), 62201)
	if !errors.Is(err, spa.ErrReplay) {
		t.Fatalf("second IncomingSPA error = %v, want ErrReplay", err)
	}
	if fw.installCalls != 1 {
		t.Fatalf("installCalls after replay = %d, want 1", fw.installCalls)
	}
}

func TestPipeline_ExpiredPacket(t *testing.T) {
	t.Parallel()

	stanza := testStanza()
	p, fw, store := newTestPipeline(t, stanza)
	p.Now = func() time.Time { return time.Unix(1700000000, 0) }

	body := encodeSymmetricFixture(t, stanza.SymmetricKey, stanza.HMACKey,
		[]byte("1234:alice:1600000000:2.0.3:1:192.168.1.7,tcp/22"))
	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 54321}

	err := p.IncomingSPA(context.Background(), body, src, net.ParseIP("10.0.0.1"), 62201)
	if err == nil {
		t.Fatal("expected drop for expired packet")
	}
	if fw.installCalls != 0 {
		t.Fatalf("installCalls = %d, want 0", fw.installCalls)
	}

	digest := spa.ComputeDigest(body)
	present, _ := store.Contains(digest)
	if !present {
		t.Error("expected digest to be inserted despite expiry drop")
	}
}

func TestPipeline_PrefixPoisonedReplayRejectedAtClassifier(t *testing.T) {
	t.Parallel()

	stanza := testStanza()
	p, fw, _ := newTestPipeline(t, stanza)

	accepted := encodeSymmetricFixture(t, stanza.SymmetricKey, stanza.HMACKey,
		[]byte("1234:alice:1700000000:2.0.3:1:192.168.1.7,tcp/22"))
	poisoned := append([]byte("U2FsdGVkX1"), accepted...)

	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 54321}
	err := p.IncomingSPA(context.Background(), poisoned, src, net.ParseIP("10.0.0.1"), 62201)
	if !errors.Is(err, spa.ErrBadData) {
		t.Fatalf("error = %v, want ErrBadData", err)
	}
	if fw.installCalls != 0 {
		t.Fatalf("installCalls = %d, want 0", fw.installCalls)
	}
}

func TestPipeline_IdentifierModeMiss(t *testing.T) {
	t.Parallel()

	stanza := testStanza()
	stanza.Identifier = "555"
	p, fw, _ := newTestPipeline(t, stanza)
	p.Config.IdentifierMode = true

	body := encodeSymmetricFixture(t, stanza.SymmetricKey, stanza.HMACKey,
		[]byte("1234:alice:1700000000:2.0.3:1:192.168.1.7,tcp/22"))
	// Prefix a client-id base64 block that decodes to 99999, which has
	// no stanza entry.
	idPrefix := encodeClientID(t, 99999)
	framed := append(idPrefix, body...)

	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 54321}
	err := p.IncomingSPA(context.Background(), framed, src, net.ParseIP("10.0.0.1"), 62201)
	if !errors.Is(err, spa.ErrAccessDenied) {
		t.Fatalf("error = %v, want ErrAccessDenied", err)
	}
	if fw.installCalls != 0 {
		t.Fatalf("installCalls = %d, want 0", fw.installCalls)
	}
}

func TestPipeline_CommandMessageDenied(t *testing.T) {
	t.Parallel()

	stanza := testStanza()
	stanza.EnableCmdExec = false
	p, fw, store := newTestPipeline(t, stanza)

	body := encodeSymmetricFixture(t, stanza.SymmetricKey, stanza.HMACKey,
		[]byte("1234:alice:1700000000:2.0.3:0:192.168.1.7,/bin/true"))
	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 54321}

	err := p.IncomingSPA(context.Background(), body, src, net.ParseIP("10.0.0.1"), 62201)
	if err == nil {
		t.Fatal("expected denial of command message")
	}
	if fw.installCalls != 0 {
		t.Fatalf("installCalls = %d, want 0", fw.installCalls)
	}

	digest := spa.ComputeDigest(body)
	present, _ := store.Contains(digest)
	if !present {
		t.Error("expected digest to be inserted before command denial")
	}
}
