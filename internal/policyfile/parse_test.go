package policyfile_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/spad-project/gospad/internal/policyfile"
	"github.com/spad-project/gospad/internal/spa"
)

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "access.conf")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const fixture = `
[ssh-admins]
source = 10.0.0.0/24, 192.168.1.5
key_base64 = cGFzc3BocmFzZQ==
hmac_key_base64 = aG1hY2tleQ==
open_ports = tcp/22
access_timeout = 30
enable_cmd_exec = true
cmd_exec_user = spauser
`

func TestLoad_ParsesStanzaFields(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, fixture)
	stanzas, err := policyfile.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stanzas) != 1 {
		t.Fatalf("len(stanzas) = %d, want 1", len(stanzas))
	}

	st := stanzas[0]
	if st.Name != "ssh-admins" {
		t.Errorf("Name = %q, want ssh-admins", st.Name)
	}
	if !st.MatchesSource(net.ParseIP("10.0.0.7")) {
		t.Error("expected 10.0.0.7 to match source list")
	}
	if st.MatchesSource(net.ParseIP("172.16.0.1")) {
		t.Error("did not expect 172.16.0.1 to match source list")
	}
	if len(st.PermittedPorts) != 1 || st.PermittedPorts[0] != (spa.ProtoPort{Proto: "tcp", Port: 22}) {
		t.Errorf("PermittedPorts = %+v, want [{tcp 22}]", st.PermittedPorts)
	}
	if !st.EnableCmdExec || st.CmdExecUser != "spauser" {
		t.Errorf("command exec fields not parsed: enable=%v user=%q", st.EnableCmdExec, st.CmdExecUser)
	}
	if st.HMACAlgorithm != spa.HMACSHA256 {
		t.Errorf("HMACAlgorithm = %v, want default sha256", st.HMACAlgorithm)
	}
}

func TestLoad_RejectsBadPort(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, "[bad]\nopen_ports = tcp/notaport\n")
	if _, err := policyfile.Load(path); err == nil {
		t.Fatal("expected error for malformed port entry")
	}
}
