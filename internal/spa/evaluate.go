package spa

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// SearchOutcome is the explicit two-variant result threaded from the
// evaluator back to the pipeline coordinator (§9 design note): a
// non-nil outcome always carries the reason, and Stop distinguishes an
// unambiguous protocol error (further stanzas cannot help) from a
// policy mismatch (the next candidate stanza might still match).
type SearchOutcome struct {
	Err  error
	Stop bool
}

func keepSearching(err error) *SearchOutcome { return &SearchOutcome{Err: err, Stop: false} }
func stopSearching(err error) *SearchOutcome { return &SearchOutcome{Err: err, Stop: true} }

// EvaluatorConfig carries the server-wide toggles §4.6 steps 5 and 10
// depend on.
type EvaluatorConfig struct {
	AllowLegacyAccessRequests bool

	PacketAgingEnabled bool
	MaxSPAPacketAge    time.Duration

	NATSupported      bool
	NATEnabled        bool
	LocalNATSupported bool
	LocalNATEnabled   bool

	CheckPortAccess    bool
	CheckServiceAccess bool
}

// checkIPMatch is §4.6 step 1.
func checkIPMatch(stanza *Stanza, srcIP, dstIP net.IP) *SearchOutcome {
	if !stanza.MatchesSource(srcIP) || !stanza.MatchesDestination(dstIP) {
		return keepSearching(fmt.Errorf("evaluate: source/destination mismatch: %w", ErrAccessDenied))
	}
	return nil
}

// checkExpiration is §4.6 step 2.
func checkExpiration(stanza *Stanza, now time.Time) *SearchOutcome {
	if stanza.Expired(now) {
		return keepSearching(fmt.Errorf("evaluate: stanza expired: %w", ErrAccessDenied))
	}
	return nil
}

// checkMessageTypePermissibility is §4.6 step 5.
func checkMessageTypePermissibility(cfg EvaluatorConfig, msgType MessageType) *SearchOutcome {
	if msgType.IsLegacy() && !cfg.AllowLegacyAccessRequests {
		return stopSearching(fmt.Errorf("evaluate: legacy access requests disabled: %w", ErrAccessDenied))
	}
	return nil
}

// checkSignerAllowlist is §4.6 step 6: the C4 tail, deferred until
// after the message-type check so a stop at step 5 short-circuits
// before it.
func checkSignerAllowlist(stanza *Stanza, ctx *CryptoContext) *SearchOutcome {
	if !stanza.AsymmetricEnabled || !stanza.RequireSignature {
		return nil
	}
	if !signerAllowed(stanza, ctx.SignerID, ctx.SignerFingerprint) {
		return keepSearching(fmt.Errorf("evaluate: signer not in allow-list: %w", ErrAccessDenied))
	}
	return nil
}

// checkFreshness is §4.6 step 7.
func checkFreshness(cfg EvaluatorConfig, timestamp int64, now time.Time) *SearchOutcome {
	if !cfg.PacketAgingEnabled {
		return nil
	}
	age := now.Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > cfg.MaxSPAPacketAge {
		return keepSearching(fmt.Errorf("evaluate: packet too old: %w", ErrAccessDenied))
	}
	return nil
}

// checkEmbeddedSourceIP is §4.6 step 8. It both validates and resolves
// UseSrcIP onto msg.
func checkEmbeddedSourceIP(stanza *Stanza, msg *DecodedMessage, recvSrcIP net.IP) *SearchOutcome {
	if msg.EmbeddedSourceIP.Equal(net.IPv4zero) {
		if stanza.RequireSourceAddress {
			return keepSearching(fmt.Errorf("evaluate: source address required: %w", ErrAccessDenied))
		}
		msg.UseSrcIP = recvSrcIP
		return nil
	}
	msg.UseSrcIP = msg.EmbeddedSourceIP
	return nil
}

// checkUsername is §4.6 step 9.
func checkUsername(stanza *Stanza, msg *DecodedMessage) *SearchOutcome {
	if stanza.RequiredUsername == "" {
		return nil
	}
	if msg.Username != stanza.RequiredUsername {
		return keepSearching(fmt.Errorf("evaluate: username mismatch: %w", ErrAccessDenied))
	}
	return nil
}

// checkNATEnablement is §4.6 step 10.
func checkNATEnablement(cfg EvaluatorConfig, msgType MessageType) *SearchOutcome {
	if !msgType.IsNAT() {
		return nil
	}

	local := msgType == MsgLocalNATAccess || msgType == MsgClientTimeoutLocalNATAccess
	if local {
		if !cfg.LocalNATSupported {
			return stopSearching(fmt.Errorf("evaluate: local nat not supported: %w", ErrAccessDenied))
		}
		if !cfg.LocalNATEnabled {
			return keepSearching(fmt.Errorf("evaluate: local nat not enabled: %w", ErrAccessDenied))
		}
		return nil
	}

	if !cfg.NATSupported {
		return stopSearching(fmt.Errorf("evaluate: nat not supported: %w", ErrAccessDenied))
	}
	if !cfg.NATEnabled {
		return keepSearching(fmt.Errorf("evaluate: nat not enabled: %w", ErrAccessDenied))
	}
	return nil
}

// checkRequestPermissibility is §4.6 step 11. For SERVICE_ACCESS*
// requests it resolves msg.ServiceData against catalog; otherwise it
// parses the remainder as a proto/port list and checks it against the
// stanza's permitted ports.
func checkRequestPermissibility(cfg EvaluatorConfig, stanza *Stanza, msg *DecodedMessage, catalog ServiceCatalog) *SearchOutcome {
	if msg.Type.IsService() {
		if !cfg.CheckServiceAccess {
			return stopSearching(fmt.Errorf("evaluate: service access checking disabled: %w", ErrAccessDenied))
		}
		resolved, err := ResolveServiceRequest(stanza, catalog, msg.Remainder)
		if err != nil {
			return stopSearching(err)
		}
		msg.ServiceData = resolved
		return nil
	}

	if msg.Type == MsgCommand {
		// Command requests carry a command string, not a port list;
		// permissibility is enforced by C7's command-execution flags.
		return nil
	}

	if !cfg.CheckPortAccess {
		return keepSearching(fmt.Errorf("evaluate: port access checking disabled: %w", ErrAccessDenied))
	}

	requested, err := parseProtoPortList(msg.Remainder)
	if err != nil {
		return keepSearching(err)
	}

	for _, want := range requested {
		if !portPermitted(stanza, want) {
			return keepSearching(fmt.Errorf("evaluate: %s/%d not permitted: %w", want.Proto, want.Port, ErrAccessDenied))
		}
	}
	return nil
}

func portPermitted(stanza *Stanza, want ProtoPort) bool {
	for _, p := range stanza.PermittedPorts {
		if p.Proto == want.Proto && p.Port == want.Port {
			return true
		}
	}
	return false
}

func parseProtoPortList(remainder string) ([]ProtoPort, error) {
	parts := strings.Split(remainder, ",")
	out := make([]ProtoPort, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		slash := strings.IndexByte(p, '/')
		if slash < 0 {
			return nil, fmt.Errorf("evaluate: malformed proto/port %q: %w", p, ErrAccessDenied)
		}
		proto := p[:slash]
		var port int
		if _, err := fmt.Sscanf(p[slash+1:], "%d", &port); err != nil {
			return nil, fmt.Errorf("evaluate: malformed port in %q: %w", p, ErrAccessDenied)
		}
		out = append(out, ProtoPort{Proto: proto, Port: port})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("evaluate: empty request: %w", ErrAccessDenied)
	}
	return out, nil
}
