package spa

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// MessageType is the closed enumeration of §3.
type MessageType int

const (
	MsgCommand MessageType = iota
	MsgAccess
	MsgLegacyAccess
	MsgClientTimeoutAccess
	MsgNATAccess
	MsgClientTimeoutNATAccess
	MsgLocalNATAccess
	MsgClientTimeoutLocalNATAccess
	MsgServiceAccess
	MsgClientTimeoutServiceAccess
)

var messageTypeNames = [...]string{
	"COMMAND",
	"ACCESS",
	"LEGACY_ACCESS",
	"CLIENT_TIMEOUT_ACCESS",
	"NAT_ACCESS",
	"CLIENT_TIMEOUT_NAT_ACCESS",
	"LOCAL_NAT_ACCESS",
	"CLIENT_TIMEOUT_LOCAL_NAT_ACCESS",
	"SERVICE_ACCESS",
	"CLIENT_TIMEOUT_SERVICE_ACCESS",
}

const unknownMessageTypeFmt = "MESSAGE_TYPE(%d)"

func (t MessageType) String() string {
	if t < 0 || int(t) >= len(messageTypeNames) {
		return fmt.Sprintf(unknownMessageTypeFmt, int(t))
	}
	return messageTypeNames[t]
}

// IsLegacy reports whether t is one of the legacy access request
// types gated by ALLOW_LEGACY_ACCESS_REQUESTS.
func (t MessageType) IsLegacy() bool {
	return t == MsgLegacyAccess
}

// IsNAT reports whether t requires NAT or local-NAT support to be
// enabled.
func (t MessageType) IsNAT() bool {
	switch t {
	case MsgNATAccess, MsgClientTimeoutNATAccess, MsgLocalNATAccess, MsgClientTimeoutLocalNATAccess:
		return true
	default:
		return false
	}
}

// IsService reports whether t is one of the SERVICE_ACCESS* variants.
func (t MessageType) IsService() bool {
	return t == MsgServiceAccess || t == MsgClientTimeoutServiceAccess
}

// HasClientTimeout reports whether t is one of the CLIENT_TIMEOUT_*
// variants, which carry a client-supplied timeout field.
func (t MessageType) HasClientTimeout() bool {
	switch t {
	case MsgClientTimeoutAccess, MsgClientTimeoutNATAccess, MsgClientTimeoutLocalNATAccess, MsgClientTimeoutServiceAccess:
		return true
	default:
		return false
	}
}

// DecodedMessage is the per-datagram scratch record produced by the
// message parser (§3 "Decoded SPA record").
type DecodedMessage struct {
	ClientIDStr string

	Random    string
	Username  string
	Timestamp int64
	Version   string
	Type      MessageType

	EmbeddedSourceIP net.IP
	Remainder        string

	NATAccess     string
	ServerAuth    string
	ClientTimeout int

	// EffectiveTimeout and UseSrcIP are filled in by C6/C7, not by
	// the parser itself.
	EffectiveTimeout int
	UseSrcIP         net.IP

	// ServiceData holds the resolved (proto, port) list for
	// SERVICE_ACCESS* requests; populated by C6 step 11.
	ServiceData []ProtoPort
}

// ParseMessage decodes ctx's plaintext into a DecodedMessage. Any
// field that fails to extract drops the packet per §4.5.
func ParseMessage(ctx *CryptoContext, clientIDStr string) (*DecodedMessage, error) {
	fields := strings.Split(string(ctx.Plaintext), ":")
	if len(fields) < 6 {
		return nil, fmt.Errorf("message: too few fields: %w", ErrAccessDenied)
	}

	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("message: bad timestamp: %w", ErrAccessDenied)
	}

	typeNum, err := strconv.Atoi(fields[4])
	if err != nil || typeNum < 0 || typeNum >= len(messageTypeNames) {
		return nil, fmt.Errorf("message: bad message type: %w", ErrAccessDenied)
	}
	msgType := MessageType(typeNum)

	msg := &DecodedMessage{
		ClientIDStr: clientIDStr,
		Random:      fields[0],
		Username:    fields[1],
		Timestamp:   ts,
		Version:     fields[3],
		Type:        msgType,
	}

	idx := 6
	next := func() (string, bool) {
		if idx >= len(fields) {
			return "", false
		}
		v := fields[idx]
		idx++
		return v, true
	}

	if msgType.IsNAT() {
		msg.NATAccess, _ = next()
	}
	msg.ServerAuth, _ = next()
	if msgType.HasClientTimeout() {
		if v, ok := next(); ok {
			timeout, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("message: bad client timeout: %w", ErrAccessDenied)
			}
			msg.ClientTimeout = timeout
		}
	}

	if err := parseBody(msg, fields[5]); err != nil {
		return nil, err
	}

	return msg, nil
}

// parseBody splits the msg_body field on the first comma into the
// embedded source IP and the request remainder, per §4.5's post-parse
// structural checks.
func parseBody(msg *DecodedMessage, body string) error {
	comma := strings.IndexByte(body, ',')
	if comma < 0 {
		return fmt.Errorf("message: body missing comma: %w", ErrAccessDenied)
	}

	srcIPStr := body[:comma]
	remainder := body[comma+1:]

	if len(srcIPStr) < MinIPv4StrLen-1 || len(srcIPStr) > MaxIPv4StrLen {
		return fmt.Errorf("message: embedded ip length: %w", ErrAccessDenied)
	}

	ip := net.ParseIP(srcIPStr)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("message: embedded ip not ipv4: %w", ErrAccessDenied)
	}

	if len(remainder) > MaxDecryptedSPALen {
		remainder = remainder[:MaxDecryptedSPALen]
	}

	msg.EmbeddedSourceIP = ip.To4()
	msg.Remainder = remainder
	return nil
}
