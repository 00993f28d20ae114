package spa

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Config gathers every toggle the coordinator threads through C1–C7.
type Config struct {
	HTTPEnabled    bool
	IdentifierMode bool

	Evaluator EvaluatorConfig
	Action    ActionConfig
}

// Pipeline is C8, the coordinator. It owns nothing long-lived beyond
// references to the server's shared collaborators; all per-datagram
// state lives in the scratch records created inside IncomingSPA.
type Pipeline struct {
	Config Config

	Stanzas     *StanzaSet
	ReplayStore ReplayStore
	Catalog     ServiceCatalog
	RateLimiter *RateLimiter
	Firewall    FirewallBackend
	Commands    CommandRunner

	Logger *slog.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// IncomingSPA drives one datagram through C1–C7 per §4.8. It never
// panics across its own boundary and never lets an in-flight crypto
// context outlive the call.
func (p *Pipeline) IncomingSPA(ctx context.Context, raw []byte, srcAddr *net.UDPAddr, dstIP net.IP, dstPort int) error {
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Error("pipeline panic recovered",
				slog.String("src", srcAddr.String()),
				slog.Any("panic", r),
			)
		}
	}()

	if p.RateLimiter != nil && !p.RateLimiter.Allow(srcAddr.IP) {
		p.Logger.Warn("rate limited", slog.String("src", srcAddr.String()))
		return fmt.Errorf("pipeline: %w", ErrBadData)
	}

	rec, err := ClassifyPacket(raw, ClassifyOptions{
		HTTPEnabled:    p.Config.HTTPEnabled,
		IdentifierMode: p.Config.IdentifierMode,
		SrcIP:          srcAddr.IP,
		DstIP:          dstIP,
		SrcPort:        srcAddr.Port,
		DstPort:        dstPort,
	})
	if err != nil {
		p.Logger.Warn("packet classification failed",
			slog.String("src", srcAddr.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	digest := ComputeDigest(rec.Body)

	present, err := p.ReplayStore.Contains(digest)
	if err != nil {
		p.Logger.Warn("replay store lookup failed",
			slog.String("src", srcAddr.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("pipeline: %w", ErrDigest)
	}
	if present {
		p.Logger.Warn("replay detected",
			slog.String("src", srcAddr.String()),
		)
		return fmt.Errorf("pipeline: %w", ErrReplay)
	}

	selector := p.selectStanzas(rec)

	for {
		stanza, ok := selector.Next()
		if !ok {
			break
		}

		outcome := p.attempt(ctx, stanza, rec, digest, srcAddr)
		if outcome == nil {
			continue
		}

		p.logOutcome(srcAddr, stanza, outcome)

		if outcome.Stop {
			return outcome.Err
		}
		// KEEP_SEARCHING: try the next candidate stanza.
	}

	p.Logger.Warn("no stanza matched", slog.String("src", srcAddr.String()))
	return fmt.Errorf("pipeline: %w", ErrAccessDenied)
}

// selectStanzas implements C3: identifier mode looks up a single
// candidate by decimal-string ID; IP mode walks the ordered list.
func (p *Pipeline) selectStanzas(rec *PacketRecord) *StanzaSelector {
	now := p.now()
	if p.Config.IdentifierMode {
		return p.Stanzas.SelectByIdentifier(rec.ClientIDStr, now)
	}
	return p.Stanzas.SelectByAddress(rec.SrcIP, rec.DstIP, now)
}

// attempt runs one stanza through steps 1–11 of §4.6 and, on full
// success, C7. It owns the crypto context for the duration of this one
// candidate and zeroes it on every exit path, per §9.
func (p *Pipeline) attempt(ctx context.Context, stanza *Stanza, rec *PacketRecord, digest Digest, srcAddr *net.UDPAddr) *SearchOutcome {
	now := p.now()

	if o := checkIPMatch(stanza, rec.SrcIP, rec.DstIP); o != nil {
		return o
	}
	if o := checkExpiration(stanza, now); o != nil {
		return o
	}

	cctx, err := Decrypt(stanza, rec.Body, rec.ClientIDStr)
	if err != nil {
		return keepSearching(fmt.Errorf("pipeline: %w", ErrDecryptFailed))
	}
	defer cctx.Zero()

	inserted, err := p.ReplayStore.Insert(digest)
	if err != nil {
		return keepSearching(fmt.Errorf("pipeline: %w", ErrDigest))
	}
	if !inserted {
		return keepSearching(fmt.Errorf("pipeline: %w", ErrReplay))
	}

	msg, err := ParseMessage(cctx, rec.ClientIDStr)
	if err != nil {
		// §9 open question: a decoder fault here stops the search in
		// the legacy source even though it reads like a bug; this
		// port preserves that behavior.
		return stopSearching(fmt.Errorf("pipeline: %w", ErrAccessDenied))
	}

	if o := checkMessageTypePermissibility(p.Config.Evaluator, msg.Type); o != nil {
		return o
	}
	if o := checkSignerAllowlist(stanza, cctx); o != nil {
		return o
	}
	if o := checkFreshness(p.Config.Evaluator, msg.Timestamp, now); o != nil {
		return o
	}
	if o := checkEmbeddedSourceIP(stanza, msg, rec.SrcIP); o != nil {
		return o
	}
	if o := checkUsername(stanza, msg); o != nil {
		return o
	}
	if o := checkNATEnablement(p.Config.Evaluator, msg.Type); o != nil {
		return o
	}
	if o := checkRequestPermissibility(p.Config.Evaluator, stanza, msg, p.Catalog); o != nil {
		return o
	}

	return Dispatch(ctx, stanza, msg, p.Firewall, p.Commands, p.Config.Action)
}

func (p *Pipeline) logOutcome(srcAddr *net.UDPAddr, stanza *Stanza, outcome *SearchOutcome) {
	attrs := []any{
		slog.String("src", srcAddr.String()),
		slog.String("stanza", stanza.Name),
	}
	if outcome.Err != nil {
		attrs = append(attrs, slog.String("error", outcome.Err.Error()))
	}

	switch {
	case outcome.Err == nil && outcome.Stop:
		p.Logger.Info("access granted", attrs...)
	case outcome.Err == nil:
		p.Logger.Info("test mode, no action taken", attrs...)
	case outcome.Stop:
		p.Logger.Warn("packet dropped", attrs...)
	default:
		p.Logger.Debug("stanza attempt failed, trying next", attrs...)
	}
}
