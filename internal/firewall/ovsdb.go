package firewall

import (
	"context"
	"fmt"

	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
	"github.com/ovn-org/libovsdb/ovsdb"

	"github.com/spad-project/gospad/internal/spa"
)

// aclRow mirrors the OVN Northbound ACL table columns this backend
// touches: a priority-ordered allow rule scoped to one logical port's
// match expression.
type aclRow struct {
	UUID     string `ovsdb:"_uuid"`
	Name     string `ovsdb:"name"`
	Priority int    `ovsdb:"priority"`
	Match    string `ovsdb:"match"`
	Action   string `ovsdb:"action"`
	Direction string `ovsdb:"direction"`
}

// aclPriority is the fixed priority used for every SPA-granted ACL;
// it sits above the default-deny baseline but below any
// operator-authored exception.
const aclPriority = 2000

// ovsdbApplier programs OVN Northbound ACL rows for each grant,
// scoped to a single logical switch port. One ACL row is created per
// grant and removed by name on expiry.
type ovsdbApplier struct {
	cli         client.Client
	logicalPort string
}

// NewOVSDBBackend connects to an OVN northbound database at endpoint
// (e.g. "tcp:127.0.0.1:6641") and returns a Manager whose ruleApplier
// programs ACL rows scoped to logicalPort.
func NewOVSDBBackend(ctx context.Context, endpoint, logicalPort string) (*Manager, error) {
	dbModel, err := model.NewClientDBModel("OVN_Northbound", map[string]model.Model{
		"ACL": &aclRow{},
	})
	if err != nil {
		return nil, fmt.Errorf("firewall: build ovsdb model: %w", err)
	}

	cli, err := client.NewOVSDBClient(dbModel, client.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("firewall: new ovsdb client: %w", err)
	}
	if err := cli.Connect(ctx); err != nil {
		return nil, fmt.Errorf("firewall: connect to %s: %w", endpoint, err)
	}
	if _, err := cli.MonitorAll(ctx); err != nil {
		return nil, fmt.Errorf("firewall: monitor ovsdb: %w", err)
	}

	return newManager(&ovsdbApplier{cli: cli, logicalPort: logicalPort}), nil
}

func (a *ovsdbApplier) addRule(ctx context.Context, g grant) error {
	row := &aclRow{
		Name:      aclName(g),
		Priority:  aclPriority,
		Match:     aclMatch(a.logicalPort, g),
		Action:    "allow-related",
		Direction: "to-lport",
	}

	ops, err := a.cli.Create(row)
	if err != nil {
		return fmt.Errorf("firewall: build acl insert op: %w", err)
	}
	if _, err := a.cli.Transact(ctx, ops...); err != nil {
		return fmt.Errorf("firewall: transact acl insert: %w", err)
	}
	return nil
}

func (a *ovsdbApplier) removeRule(ctx context.Context, g grant) error {
	ops := []ovsdb.Operation{{
		Op:    ovsdb.OperationDelete,
		Table: "ACL",
		Where: []ovsdb.Condition{{
			Column:   "name",
			Function: ovsdb.ConditionEqual,
			Value:    aclName(g),
		}},
	}}
	if _, err := a.cli.Transact(ctx, ops...); err != nil {
		return fmt.Errorf("firewall: transact acl delete: %w", err)
	}
	return nil
}

func (a *ovsdbApplier) flush(ctx context.Context) error {
	ops := []ovsdb.Operation{{
		Op:    ovsdb.OperationDelete,
		Table: "ACL",
		Where: []ovsdb.Condition{{
			Column:   "priority",
			Function: ovsdb.ConditionEqual,
			Value:    aclPriority,
		}},
	}}
	if _, err := a.cli.Transact(ctx, ops...); err != nil {
		return fmt.Errorf("firewall: transact acl flush: %w", err)
	}
	return nil
}

func aclName(g grant) string {
	return fmt.Sprintf("gospad-%s-%d", g.useSrcIP, g.expiresAt.Unix())
}

func aclMatch(logicalPort string, g grant) string {
	ports := append(append([]spa.ProtoPort{}, g.ports...), g.serviceData...)
	if len(ports) == 0 {
		return fmt.Sprintf("outport == %q && ip4.src == %s", logicalPort, g.useSrcIP)
	}
	p := ports[0]
	return fmt.Sprintf("outport == %q && ip4.src == %s && %s.dst == %d", logicalPort, g.useSrcIP, p.Proto, p.Port)
}
