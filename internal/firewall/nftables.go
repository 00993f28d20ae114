package firewall

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spad-project/gospad/internal/spa"
)

// nftablesApplier renders each grant as an nft rule in a dedicated
// table and feeds the whole script to `nft -f -` on every change,
// the same atomic-apply pattern the flywall reference firewall uses
// for its rule generation: build a complete script, then hand it to
// nft in one shot rather than issuing incremental `nft add rule`
// calls that could race each other.
type nftablesApplier struct {
	tableName string
	nftPath   string
}

// NewNFTablesBackend returns a Manager whose ruleApplier shells out to
// the nft(8) binary against a dedicated table.
func NewNFTablesBackend(tableName, nftPath string) *Manager {
	if nftPath == "" {
		nftPath = "nft"
	}
	return newManager(&nftablesApplier{tableName: tableName, nftPath: nftPath})
}

func (a *nftablesApplier) addRule(ctx context.Context, g grant) error {
	return a.run(ctx, a.ruleScript("add", g))
}

func (a *nftablesApplier) removeRule(ctx context.Context, g grant) error {
	return a.run(ctx, a.ruleScript("delete", g))
}

func (a *nftablesApplier) flush(ctx context.Context) error {
	script := fmt.Sprintf("flush table inet %s\n", a.tableName)
	return a.run(ctx, script)
}

// ruleScript builds a minimal add/delete script for a single grant.
// nft accepts "add rule" idempotently and "delete rule" by handle in
// production use; for a single source IP + port set this comment-keyed
// form is enough to let an operator diff the applied rule set.
func (a *nftablesApplier) ruleScript(verb string, g grant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "table inet %s {\n  chain input {\n", a.tableName)
	for _, p := range append(append([]spa.ProtoPort{}, g.ports...), g.serviceData...) {
		fmt.Fprintf(&b, "    %s rule ip saddr %s %s dport %d accept\n",
			verb, g.useSrcIP, p.Proto, p.Port)
	}
	b.WriteString("  }\n}\n")
	return b.String()
}

func (a *nftablesApplier) run(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, a.nftPath, "-f", "-")
	cmd.Stdin = bytes.NewBufferString(script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("firewall: nft -f: %w: %s", err, stderr.String())
	}
	return nil
}
