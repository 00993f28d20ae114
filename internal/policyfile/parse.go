// Package policyfile parses the human-readable access-stanza file into
// spa.Stanza values. Each INI section is one stanza; the section name
// is the stanza name.
package policyfile

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/spad-project/gospad/internal/spa"
)

// Load parses the access-stanza file at path and returns one
// spa.Stanza per INI section, in file order.
func Load(path string) ([]*spa.Stanza, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("policyfile: load %s: %w", path, err)
	}

	var stanzas []*spa.Stanza
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		st, err := parseSection(sec)
		if err != nil {
			return nil, fmt.Errorf("policyfile: stanza %q: %w", sec.Name(), err)
		}
		stanzas = append(stanzas, st)
	}

	return stanzas, nil
}

func parseSection(sec *ini.Section) (*spa.Stanza, error) {
	st := &spa.Stanza{Name: sec.Name()}

	var err error
	if st.SrcIPs, err = parseCIDRList(sec.Key("source").String()); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if dst := sec.Key("destination").String(); dst != "" {
		if st.DstIPs, err = parseCIDRList(dst); err != nil {
			return nil, fmt.Errorf("destination: %w", err)
		}
	}

	st.Identifier = sec.Key("identifier").String()

	if keyB64 := sec.Key("key_base64").String(); keyB64 != "" {
		if st.SymmetricKey, err = base64.StdEncoding.DecodeString(keyB64); err != nil {
			return nil, fmt.Errorf("key_base64: %w", err)
		}
	}
	if hmacB64 := sec.Key("hmac_key_base64").String(); hmacB64 != "" {
		if st.HMACKey, err = base64.StdEncoding.DecodeString(hmacB64); err != nil {
			return nil, fmt.Errorf("hmac_key_base64: %w", err)
		}
	}
	st.HMACAlgorithm = parseHMACAlgorithm(sec.Key("hmac_digest_type").MustString("sha256"))

	st.AsymmetricEnabled = sec.Key("enable_asymmetric").MustBool(false)
	st.GPGExePath = sec.Key("gpg_exe").String()
	st.GPGHomeDir = sec.Key("gpg_home_dir").String()
	st.DecryptPassphrase = sec.Key("gpg_decrypt_passphrase").String()
	st.AllowNoPassphrase = sec.Key("gpg_allow_no_pw").MustBool(false)
	st.RequireSignature = sec.Key("gpg_require_sig").MustBool(true)
	st.IgnoreVerifyError = sec.Key("gpg_ignore_verify_error").MustBool(false)
	st.RequiredSignerIDs = splitCSV(sec.Key("gpg_remote_id").String())
	st.RequiredSignerFingerprints = splitCSV(sec.Key("gpg_fingerprint_id").String())

	if ports := sec.Key("open_ports").String(); ports != "" {
		if st.PermittedPorts, err = parseProtoPorts(ports); err != nil {
			return nil, fmt.Errorf("open_ports: %w", err)
		}
	}
	st.PermittedServices = splitCSV(sec.Key("restrict_to_services").String())

	st.RequiredUsername = sec.Key("require_username").String()
	st.RequireSourceAddress = sec.Key("require_source_address").MustBool(false)

	if to := sec.Key("access_timeout").String(); to != "" {
		secs, err := strconv.Atoi(to)
		if err != nil {
			return nil, fmt.Errorf("access_timeout: %w", err)
		}
		st.AccessTimeout = time.Duration(secs) * time.Second
	}
	if exp := sec.Key("expire").String(); exp != "" {
		ts, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expire: %w", err)
		}
		st.Expiration = time.Unix(ts, 0)
	}

	st.EnableCmdExec = sec.Key("enable_cmd_exec").MustBool(false)
	st.EnableCmdSudoExec = sec.Key("enable_cmd_sudo_exec").MustBool(false)
	st.CmdExecUser = sec.Key("cmd_exec_user").String()
	st.CmdExecGroup = sec.Key("cmd_exec_group").String()
	st.CmdSudoExecUser = sec.Key("cmd_sudo_exec_user").String()
	st.CmdSudoExecGroup = sec.Key("cmd_sudo_exec_group").String()
	if uid := sec.Key("cmd_exec_uid").String(); uid != "" {
		st.CmdExecUID, err = strconv.Atoi(uid)
		if err != nil {
			return nil, fmt.Errorf("cmd_exec_uid: %w", err)
		}
	}
	if gid := sec.Key("cmd_exec_gid").String(); gid != "" {
		st.CmdExecGID, err = strconv.Atoi(gid)
		if err != nil {
			return nil, fmt.Errorf("cmd_exec_gid: %w", err)
		}
	}
	st.CmdCycleOpen = sec.Key("cmd_cycle_open").String()
	st.CmdCycleClose = sec.Key("cmd_cycle_close").String()

	return st, nil
}

func parseCIDRList(s string) ([]*net.IPNet, error) {
	if s == "" {
		return nil, nil
	}
	var nets []*net.IPNet
	for _, tok := range splitCSV(s) {
		if !strings.Contains(tok, "/") {
			if strings.EqualFold(tok, "any") || tok == "0.0.0.0" {
				tok = "0.0.0.0/0"
			} else {
				tok += "/32"
			}
		}
		_, ipnet, err := net.ParseCIDR(tok)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", tok, err)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

func parseProtoPorts(s string) ([]spa.ProtoPort, error) {
	var out []spa.ProtoPort
	for _, tok := range splitCSV(s) {
		parts := strings.SplitN(tok, "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed proto/port entry %q", tok)
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("port in %q: %w", tok, err)
		}
		out = append(out, spa.ProtoPort{Proto: strings.ToLower(parts[0]), Port: port})
	}
	return out, nil
}

func parseHMACAlgorithm(s string) spa.HMACAlgorithm {
	switch strings.ToLower(s) {
	case "sha256":
		return spa.HMACSHA256
	case "sha384":
		return spa.HMACSHA384
	case "sha512":
		return spa.HMACSHA512
	case "md5":
		return spa.HMACMD5
	default:
		return spa.HMACUnknown
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
