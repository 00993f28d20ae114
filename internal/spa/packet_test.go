package spa_test

import (
	"encoding/base64"
	"net"
	"strings"
	"testing"

	"github.com/spad-project/gospad/internal/spa"
)

func encodeClientID(t *testing.T, id uint32) []byte {
	t.Helper()
	raw := []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)}
	return []byte(base64.StdEncoding.EncodeToString(raw))
}

func validBody(t *testing.T) []byte {
	t.Helper()
	raw := make([]byte, 60)
	for i := range raw {
		raw[i] = byte('A' + i%26)
	}
	return []byte(base64.StdEncoding.EncodeToString(raw))
}

func TestClassifyPacket_LengthBounds(t *testing.T) {
	t.Parallel()

	opts := spa.ClassifyOptions{SrcIP: net.ParseIP("192.168.1.7"), DstIP: net.ParseIP("10.0.0.1")}

	if _, err := spa.ClassifyPacket([]byte("short"), opts); err == nil {
		t.Fatal("expected rejection of too-short packet")
	}

	tooLong := strings.Repeat("A", spa.MaxSPAPacketLen+1)
	if _, err := spa.ClassifyPacket([]byte(tooLong), opts); err == nil {
		t.Fatal("expected rejection of too-long packet")
	}
}

func TestClassifyPacket_PoisonedSymmetricPrefix(t *testing.T) {
	t.Parallel()

	body := append([]byte("U2FsdGVkX1"), validBody(t)...)
	opts := spa.ClassifyOptions{SrcIP: net.ParseIP("192.168.1.7"), DstIP: net.ParseIP("10.0.0.1")}

	if _, err := spa.ClassifyPacket(body, opts); err == nil {
		t.Fatal("expected rejection of poisoned symmetric-salt prefix")
	}
}

func TestClassifyPacket_ValidBase64Body(t *testing.T) {
	t.Parallel()

	body := validBody(t)
	opts := spa.ClassifyOptions{SrcIP: net.ParseIP("192.168.1.7"), DstIP: net.ParseIP("10.0.0.1")}

	rec, err := spa.ClassifyPacket(body, opts)
	if err != nil {
		t.Fatalf("ClassifyPacket: %v", err)
	}
	if string(rec.Body) != string(body) {
		t.Errorf("body mismatch: got %q want %q", rec.Body, body)
	}
}

func TestClassifyPacket_HTTPWrap(t *testing.T) {
	t.Parallel()

	inner := validBody(t)
	wrapped := "GET /" + string(inner) + " HTTP/1.1\r\nUser-Agent: Fwknop/2.0\r\n\r\n"

	opts := spa.ClassifyOptions{HTTPEnabled: true, SrcIP: net.ParseIP("192.168.1.7"), DstIP: net.ParseIP("10.0.0.1")}
	rec, err := spa.ClassifyPacket([]byte(wrapped), opts)
	if err != nil {
		t.Fatalf("ClassifyPacket: %v", err)
	}
	if string(rec.Body) != string(inner) {
		t.Errorf("unwrapped body mismatch: got %q want %q", rec.Body, inner)
	}

	optsDisabled := spa.ClassifyOptions{HTTPEnabled: false, SrcIP: net.ParseIP("192.168.1.7"), DstIP: net.ParseIP("10.0.0.1")}
	if _, err := spa.ClassifyPacket([]byte(wrapped), optsDisabled); err == nil {
		t.Fatal("expected rejection when http mode disabled")
	}
}
