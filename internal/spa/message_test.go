package spa_test

import (
	"testing"

	"github.com/spad-project/gospad/internal/spa"
)

func TestParseMessage_AccessRequest(t *testing.T) {
	t.Parallel()

	plaintext := "1234:alice:1700000000:2.0.3:1:192.168.1.7,tcp/22"
	ctx := &spa.CryptoContext{Plaintext: []byte(plaintext)}

	msg, err := spa.ParseMessage(ctx, "")
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}

	if msg.Username != "alice" {
		t.Errorf("Username = %q, want alice", msg.Username)
	}
	if msg.Type != spa.MsgAccess {
		t.Errorf("Type = %v, want %v", msg.Type, spa.MsgAccess)
	}
	if msg.Remainder != "tcp/22" {
		t.Errorf("Remainder = %q, want tcp/22", msg.Remainder)
	}
	if msg.EmbeddedSourceIP.String() != "192.168.1.7" {
		t.Errorf("EmbeddedSourceIP = %v, want 192.168.1.7", msg.EmbeddedSourceIP)
	}
}

func TestParseMessage_MissingCommaDrops(t *testing.T) {
	t.Parallel()

	ctx := &spa.CryptoContext{Plaintext: []byte("1234:alice:1700000000:2.0.3:1:192.168.1.7")}
	if _, err := spa.ParseMessage(ctx, ""); err == nil {
		t.Fatal("expected drop on missing comma in message body")
	}
}

func TestParseMessage_TooFewFieldsDrops(t *testing.T) {
	t.Parallel()

	ctx := &spa.CryptoContext{Plaintext: []byte("a:b:c")}
	if _, err := spa.ParseMessage(ctx, ""); err == nil {
		t.Fatal("expected drop on too few fields")
	}
}

func TestMessageType_String(t *testing.T) {
	t.Parallel()

	if got := spa.MsgServiceAccess.String(); got != "SERVICE_ACCESS" {
		t.Errorf("String() = %q, want SERVICE_ACCESS", got)
	}
	if got := spa.MessageType(99).String(); got != "MESSAGE_TYPE(99)" {
		t.Errorf("String() of unknown type = %q", got)
	}
}
