// Package firewall implements the spa.FirewallBackend collaborator
// (§6): installing time-limited access grants and sweeping them away
// once expired.
package firewall

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/spad-project/gospad/internal/spa"
)

// grant is one currently-installed access rule, tracked so
// CheckAndExpireRules can sweep it without re-querying the backend.
type grant struct {
	useSrcIP    net.IP
	ports       []spa.ProtoPort
	serviceData []spa.ProtoPort
	expiresAt   time.Time
}

// ruleApplier is the minimal backend-specific surface a concrete
// firewall implementation must provide; Manager handles the shared
// bookkeeping (grant tracking, expiry sweep) on top of it.
type ruleApplier interface {
	addRule(ctx context.Context, g grant) error
	removeRule(ctx context.Context, g grant) error
	flush(ctx context.Context) error
}

// Manager is a spa.FirewallBackend that tracks installed grants in
// memory and delegates the actual rule programming to a ruleApplier
// (nftables script or OVN ACL).
type Manager struct {
	applier ruleApplier

	mu     sync.Mutex
	active map[string]grant
	seq    uint64
}

var _ spa.FirewallBackend = (*Manager)(nil)

func newManager(applier ruleApplier) *Manager {
	return &Manager{applier: applier, active: make(map[string]grant)}
}

// InstallAccess programs a rule granting useSrcIP access to ports
// and/or serviceData for timeout, then records it for later expiry.
func (m *Manager) InstallAccess(ctx context.Context, useSrcIP net.IP, timeout time.Duration, ports []spa.ProtoPort, serviceData []spa.ProtoPort) error {
	g := grant{
		useSrcIP:    useSrcIP,
		ports:       ports,
		serviceData: serviceData,
		expiresAt:   time.Now().Add(timeout),
	}

	if err := m.applier.addRule(ctx, g); err != nil {
		return err
	}

	m.mu.Lock()
	m.seq++
	key := grantKey(useSrcIP, m.seq)
	m.active[key] = g
	m.mu.Unlock()

	return nil
}

// CheckAndExpireRules removes every grant whose expiry has passed. A
// fullSweep forces the backend to flush its entire rule set and
// rebuild it from the still-active grants, used after a backend
// restart or a suspected drift between tracked and installed state.
func (m *Manager) CheckAndExpireRules(ctx context.Context, fullSweep bool) error {
	now := time.Now()

	m.mu.Lock()
	var expired []grant
	for key, g := range m.active {
		if now.After(g.expiresAt) {
			expired = append(expired, g)
			delete(m.active, key)
		}
	}
	remaining := make([]grant, 0, len(m.active))
	for _, g := range m.active {
		remaining = append(remaining, g)
	}
	m.mu.Unlock()

	for _, g := range expired {
		if err := m.applier.removeRule(ctx, g); err != nil {
			return err
		}
	}

	if fullSweep {
		if err := m.applier.flush(ctx); err != nil {
			return err
		}
		for _, g := range remaining {
			if err := m.applier.addRule(ctx, g); err != nil {
				return err
			}
		}
	}

	return nil
}

// CleanupAll removes every tracked grant and flushes the backend rule
// set, used on daemon shutdown.
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.mu.Lock()
	m.active = make(map[string]grant)
	m.mu.Unlock()

	return m.applier.flush(ctx)
}

// Len reports the number of currently tracked grants, for admin
// introspection.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func grantKey(ip net.IP, seq uint64) string {
	return ip.String() + "#" + itoa(seq)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
