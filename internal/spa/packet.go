package spa

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
)

// Size and protocol constants for the classifier and downstream stages.
const (
	// MinSPADataSize is the shortest base64 body that could plausibly
	// hold a real SPA ciphertext.
	MinSPADataSize = 40

	// MaxSPAPacketLen is the largest datagram the classifier accepts,
	// chosen to comfortably hold a single unfragmented UDP payload.
	MaxSPAPacketLen = 1500

	// AsymmetricHeaderMinLen is the shortest body length at which the
	// asymmetric prefix check is even attempted.
	AsymmetricHeaderMinLen = 64

	// B64SDPIDStrLen is the number of base64 characters that encode
	// the 4-byte client identifier prefix in identifier (SDP) mode.
	B64SDPIDStrLen = 8

	// MinIPv4StrLen and MaxIPv4StrLen bound the embedded dotted-quad
	// source-IP field inside the decrypted message body.
	MinIPv4StrLen = 7
	MaxIPv4StrLen = 15

	// MaxDecryptedSPALen bounds the request remainder copied out of
	// the decrypted message body.
	MaxDecryptedSPALen = 480

	symmetricSaltPrefix  = "U2FsdGVkX1"
	asymmetricHdrPrefix  = "hQ"
	httpGetPrefix        = "GET /"
	httpFwknopUserAgent  = "User-Agent: Fwknop"
	httpLineTerminators  = " \t\r\n"
)

// PacketRecord is the per-datagram scratch record produced by the
// classifier and consumed by every later stage. It is owned by the
// pipeline coordinator for the lifetime of one packet and carries no
// state across datagrams.
type PacketRecord struct {
	// Body is the validated, HTTP-unwrapped base64 text ready for
	// decoding by the crypto engine.
	Body []byte

	SrcIP   net.IP
	DstIP   net.IP
	SrcPort int
	DstPort int

	// ClientID and ClientIDStr are the decoded identifier-mode
	// prefix; both are zero/empty when identifier mode is disabled
	// or the packet carries none.
	ClientID    uint32
	ClientIDStr string
}

// ClassifyOptions carries the configuration inputs the classifier needs;
// it never reaches into a full config struct so it stays testable in
// isolation.
type ClassifyOptions struct {
	HTTPEnabled      bool
	IdentifierMode   bool
	SrcIP            net.IP
	DstIP            net.IP
	SrcPort          int
	DstPort          int
}

// ClassifyPacket runs the §4.1 algorithm over a raw datagram. It never
// decrypts and never allocates unbounded memory; the returned error is
// always ErrBadData or ErrNotSPAData, so the caller can tell a
// structural rejection from probable noise.
func ClassifyPacket(raw []byte, opts ClassifyOptions) (*PacketRecord, error) {
	if len(raw) < MinSPADataSize || len(raw) > MaxSPAPacketLen {
		return nil, fmt.Errorf("classify: length %d out of range: %w", len(raw), ErrBadData)
	}

	if hasConstantTimePrefix(raw, symmetricSaltPrefix) {
		return nil, fmt.Errorf("classify: poisoned symmetric prefix: %w", ErrBadData)
	}
	if len(raw) > AsymmetricHeaderMinLen && hasConstantTimePrefix(raw, asymmetricHdrPrefix) {
		return nil, fmt.Errorf("classify: poisoned asymmetric prefix: %w", ErrBadData)
	}

	body := raw
	if opts.HTTPEnabled && bytes.HasPrefix(raw, []byte(httpGetPrefix)) {
		unwrapped, err := unwrapHTTP(raw)
		if err != nil {
			return nil, err
		}
		body = unwrapped
	}

	// In identifier mode the client-id prefix is a padded base64 block
	// of its own; extractClientID validates it by decoding it, so only
	// the ciphertext after it is checked here.
	b64Body := body
	if opts.IdentifierMode && len(body) > B64SDPIDStrLen {
		b64Body = body[B64SDPIDStrLen:]
	}
	if !isBase64(b64Body) {
		return nil, fmt.Errorf("classify: invalid base64 body: %w", ErrNotSPAData)
	}

	rec := &PacketRecord{
		Body:    body,
		SrcIP:   opts.SrcIP,
		DstIP:   opts.DstIP,
		SrcPort: opts.SrcPort,
		DstPort: opts.DstPort,
	}

	if opts.IdentifierMode {
		id, idStr, err := extractClientID(body)
		if err != nil {
			return nil, err
		}
		rec.ClientID = id
		rec.ClientIDStr = idStr
		// The identifier prefix is not part of the ciphertext the
		// crypto engine base64-decodes; the remainder of body is.
		rec.Body = body[B64SDPIDStrLen:]
	}

	return rec, nil
}

// hasConstantTimePrefix reports whether buf begins with prefix, comparing
// in constant time once the length check has passed. The length check
// itself is permitted to short-circuit per §8: only content, not length,
// must be timing-independent.
func hasConstantTimePrefix(buf []byte, prefix string) bool {
	if len(buf) < len(prefix) {
		return false
	}
	return subtle.ConstantTimeCompare(buf[:len(prefix)], []byte(prefix)) == 1
}

// unwrapHTTP strips a single-line HTTP GET wrapper and translates the
// base64-URL alphabet back to standard base64.
func unwrapHTTP(raw []byte) ([]byte, error) {
	if !bytes.Contains(raw, []byte(httpFwknopUserAgent)) {
		return nil, fmt.Errorf("classify: http wrap missing fwknop user-agent: %w", ErrNotSPAData)
	}

	rest := raw[len(httpGetPrefix):]
	end := bytes.IndexAny(rest, httpLineTerminators)
	if end < 0 {
		end = len(rest)
	}
	encoded := rest[:end]

	out := make([]byte, len(encoded))
	for i, b := range encoded {
		switch b {
		case '-':
			out[i] = '+'
		case '_':
			out[i] = '/'
		default:
			out[i] = b
		}
	}

	if len(out) < MinSPADataSize {
		return nil, fmt.Errorf("classify: http-unwrapped body too short: %w", ErrBadData)
	}
	return out, nil
}

// isBase64 validates the standard base64 alphabet with correct padding
// without performing a full decode.
func isBase64(buf []byte) bool {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return false
	}
	for i, b := range buf {
		switch {
		case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9', b == '+', b == '/':
			continue
		case b == '=':
			// Padding may only appear in the final two positions.
			if i < len(buf)-2 {
				return false
			}
			continue
		default:
			return false
		}
	}
	return true
}

// extractClientID decodes the leading B64SDPIDStrLen characters of body
// into the 4-byte client identifier prefix used by identifier mode.
func extractClientID(body []byte) (uint32, string, error) {
	if len(body) < B64SDPIDStrLen {
		return 0, "", fmt.Errorf("classify: body too short for client id: %w", ErrNotSPAData)
	}

	decoded, err := base64.StdEncoding.DecodeString(string(body[:B64SDPIDStrLen]))
	if err != nil || len(decoded) < 4 {
		return 0, "", fmt.Errorf("classify: client id decode failed: %w", ErrNotSPAData)
	}

	id := uint32(decoded[0]) | uint32(decoded[1])<<8 | uint32(decoded[2])<<16 | uint32(decoded[3])<<24
	if id == 0 {
		return 0, "", fmt.Errorf("classify: zero client id: %w", ErrNotSPAData)
	}

	return id, strconv.FormatUint(uint64(id), 10), nil
}
