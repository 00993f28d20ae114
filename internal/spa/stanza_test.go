package spa_test

import (
	"net"
	"testing"
	"time"

	"github.com/spad-project/gospad/internal/spa"
)

func TestStanza_ExpiredIsSticky(t *testing.T) {
	t.Parallel()

	s := &spa.Stanza{Expiration: time.Unix(1000, 0)}

	if s.Expired(time.Unix(500, 0)) {
		t.Fatal("expected not expired before expiration time")
	}
	if !s.Expired(time.Unix(1500, 0)) {
		t.Fatal("expected expired after expiration time")
	}
	// Sticky: even if asked again with an earlier "now", it stays expired.
	if !s.Expired(time.Unix(500, 0)) {
		t.Fatal("expected expiry to stick once observed")
	}
}

func TestStanzaSet_SelectByAddress_SkipsExpiredAndNonMatching(t *testing.T) {
	t.Parallel()

	_, cidrA, _ := net.ParseCIDR("10.0.0.0/24")
	_, cidrB, _ := net.ParseCIDR("192.168.1.0/24")

	expired := &spa.Stanza{Name: "expired", SrcIPs: []*net.IPNet{cidrB}, Expiration: time.Unix(1, 0)}
	wrongSrc := &spa.Stanza{Name: "wrong-src", SrcIPs: []*net.IPNet{cidrA}}
	match := &spa.Stanza{Name: "match", SrcIPs: []*net.IPNet{cidrB}}

	set := spa.NewStanzaSet([]*spa.Stanza{expired, wrongSrc, match})
	sel := set.SelectByAddress(net.ParseIP("192.168.1.7"), nil, time.Unix(1700000000, 0))

	got, ok := sel.Next()
	if !ok {
		t.Fatal("expected one candidate")
	}
	if got.Name != "match" {
		t.Errorf("got stanza %q, want match", got.Name)
	}

	if _, ok := sel.Next(); ok {
		t.Fatal("expected selector exhausted after one match")
	}
}

func TestStanzaSet_SelectByIdentifier(t *testing.T) {
	t.Parallel()

	s := &spa.Stanza{Name: "id-stanza", Identifier: "42"}
	set := spa.NewStanzaSet([]*spa.Stanza{s})

	sel := set.SelectByIdentifier("42", time.Unix(1700000000, 0))
	got, ok := sel.Next()
	if !ok || got.Name != "id-stanza" {
		t.Fatalf("got (%v, %v), want id-stanza", got, ok)
	}
	if _, ok := sel.Next(); ok {
		t.Fatal("identifier selector must yield at most one candidate")
	}

	miss := set.SelectByIdentifier("99999", time.Unix(1700000000, 0))
	if _, ok := miss.Next(); ok {
		t.Fatal("expected no candidate for unknown identifier")
	}
}
