package spa

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultAccessTimeout is the built-in fallback used when neither the
// client nor the stanza supplies one.
const DefaultAccessTimeout = 30 * time.Second

// RootCommandTimeout bounds direct (root) command execution per §5;
// the setuid/setgid path has no hard ceiling here, though §9 suggests
// implementers add one.
const RootCommandTimeout = 5 * time.Second

// FirewallBackend is the §6 firewall collaborator.
type FirewallBackend interface {
	InstallAccess(ctx context.Context, useSrcIP net.IP, timeout time.Duration, ports []ProtoPort, serviceData []ProtoPort) error
	CheckAndExpireRules(ctx context.Context, fullSweep bool) error
	CleanupAll(ctx context.Context) error
}

// CommandRunner is the §6 command collaborator.
type CommandRunner interface {
	Run(ctx context.Context, cmd string, timeout time.Duration) (exitStatus int, stdout string, err error)
	RunAs(ctx context.Context, uid, gid int, cmd string, timeout time.Duration) (exitStatus int, stdout string, err error)
}

// ActionConfig carries the server-wide toggles C7 needs.
type ActionConfig struct {
	TestMode bool
}

// effectiveTimeout implements §4.7's selection: client-supplied wins
// if positive, else the stanza's, else the built-in default.
func effectiveTimeout(msg *DecodedMessage, stanza *Stanza) time.Duration {
	if msg.ClientTimeout > 0 {
		return time.Duration(msg.ClientTimeout) * time.Second
	}
	if stanza.AccessTimeout > 0 {
		return stanza.AccessTimeout
	}
	return DefaultAccessTimeout
}

// Dispatch implements §4.7: exactly one of the four mutually exclusive
// actions runs. A returned outcome with Stop set and a nil Err means
// the packet was successfully handled (grant, command, or cycle-open);
// Stop set with a non-nil Err means it was denied terminally; Stop
// unset means "test mode, keep searching for coverage".
func Dispatch(ctx context.Context, stanza *Stanza, msg *DecodedMessage, fw FirewallBackend, cmds CommandRunner, cfg ActionConfig) *SearchOutcome {
	timeout := effectiveTimeout(msg, stanza)
	msg.EffectiveTimeout = int(timeout.Seconds())

	if stanza.CmdCycleOpen != "" {
		return dispatchCommandCycle(ctx, stanza, cmds)
	}

	if msg.Type == MsgCommand {
		return dispatchCommandMessage(ctx, stanza, msg, cmds, cfg)
	}

	if cfg.TestMode {
		return keepSearching(nil)
	}

	if err := fw.InstallAccess(ctx, msg.UseSrcIP, timeout, protoPortsFromRemainder(msg), msg.ServiceData); err != nil {
		return stopSearching(fmt.Errorf("action: firewall grant: %w", err))
	}
	return stopSearching(nil)
}

func protoPortsFromRemainder(msg *DecodedMessage) []ProtoPort {
	if msg.Type.IsService() {
		return nil
	}
	ports, err := parseProtoPortList(msg.Remainder)
	if err != nil {
		return nil
	}
	return ports
}

// dispatchCommandCycle renders and runs the stanza's open template.
// Per §4.7 a successful run fully handles the packet.
func dispatchCommandCycle(ctx context.Context, stanza *Stanza, cmds CommandRunner) *SearchOutcome {
	rendered := renderTemplate(stanza.CmdCycleOpen, stanza)
	status, _, err := runStanzaCommand(ctx, stanza, cmds, rendered)
	if err != nil || status != 0 {
		return stopSearching(fmt.Errorf("action: command cycle open: %w", ErrCommandFailed))
	}
	return stopSearching(nil)
}

// dispatchCommandMessage implements §4.7 action 2.
func dispatchCommandMessage(ctx context.Context, stanza *Stanza, msg *DecodedMessage, cmds CommandRunner, cfg ActionConfig) *SearchOutcome {
	if !stanza.EnableCmdExec || cfg.TestMode {
		return stopSearching(fmt.Errorf("action: command messages not allowed: %w", ErrAccessDenied))
	}

	cmdLine := msg.Remainder
	// §9's guard-on-the-sudo-field fix: consult the sudo group field
	// itself rather than the plain exec-group field before wrapping
	// in the sudo executable.
	if stanza.EnableCmdSudoExec && stanza.CmdSudoExecGroup != "" {
		cmdLine = wrapSudo(cmdLine, stanza.CmdSudoExecUser, stanza.CmdSudoExecGroup)
	}

	status, _, err := runStanzaCommand(ctx, stanza, cmds, cmdLine)
	if err != nil || status != 0 {
		return stopSearching(fmt.Errorf("action: command message: %w", ErrCommandFailed))
	}
	return stopSearching(nil)
}

func wrapSudo(cmd, user, group string) string {
	var b strings.Builder
	b.WriteString("sudo")
	if user != "" {
		b.WriteString(" -u ")
		b.WriteString(user)
	}
	if group != "" {
		b.WriteString(" -g ")
		b.WriteString(group)
	}
	b.WriteByte(' ')
	b.WriteString(cmd)
	return b.String()
}

// runStanzaCommand executes cmd either directly as root (bounded by
// RootCommandTimeout) or, when the stanza configures an exec
// uid/gid, via the setuid/setgid path with no hard ceiling here (§5,
// §9).
func runStanzaCommand(ctx context.Context, stanza *Stanza, cmds CommandRunner, cmd string) (int, string, error) {
	if stanza.CmdExecUID != 0 || stanza.CmdExecGID != 0 {
		return cmds.RunAs(ctx, stanza.CmdExecUID, stanza.CmdExecGID, cmd, 0)
	}
	return cmds.Run(ctx, cmd, RootCommandTimeout)
}

func renderTemplate(tmpl string, stanza *Stanza) string {
	r := strings.NewReplacer(
		"%IDENTIFIER%", stanza.Identifier,
		"%SRC_IP%", firstIPOrEmpty(stanza.SrcIPs),
	)
	return r.Replace(tmpl)
}

func firstIPOrEmpty(nets []*net.IPNet) string {
	if len(nets) == 0 {
		return ""
	}
	return nets[0].String()
}
