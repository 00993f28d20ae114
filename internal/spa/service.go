package spa

import (
	"fmt"
	"strings"
)

// ServiceCatalog maps a named service (fwknop's access.conf convention,
// e.g. "ssh") to its (proto, port) tuple. The pipeline coordinator owns
// one catalog; the daemon gives it DefaultServiceCatalog.
type ServiceCatalog map[string]ProtoPort

// DefaultServiceCatalog returns the small built-in set of well-known
// service names a stanza's permitted-services list may reference.
func DefaultServiceCatalog() ServiceCatalog {
	return ServiceCatalog{
		"ssh":    {Proto: "tcp", Port: 22},
		"https":  {Proto: "tcp", Port: 443},
		"http":   {Proto: "tcp", Port: 80},
		"rsyncd": {Proto: "tcp", Port: 873},
	}
}

// ResolveServiceRequest matches the comma-separated service-id list
// from a SERVICE_ACCESS* request body against the stanza's permitted
// services, via catalog. Every requested service-id must both resolve
// in the catalog and appear in the stanza's permitted list; any miss
// fails the whole request per §4.6 step 11 (stop searching).
func ResolveServiceRequest(stanza *Stanza, catalog ServiceCatalog, requested string) ([]ProtoPort, error) {
	ids := strings.Split(requested, ",")
	if len(ids) == 0 {
		return nil, fmt.Errorf("service: empty request: %w", ErrAccessDenied)
	}

	permitted := make(map[string]struct{}, len(stanza.PermittedServices))
	for _, s := range stanza.PermittedServices {
		permitted[s] = struct{}{}
	}

	resolved := make([]ProtoPort, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := permitted[id]; !ok {
			return nil, fmt.Errorf("service: %q not permitted: %w", id, ErrAccessDenied)
		}
		pp, ok := catalog[id]
		if !ok {
			return nil, fmt.Errorf("service: %q unknown: %w", id, ErrAccessDenied)
		}
		resolved = append(resolved, pp)
	}

	if len(resolved) == 0 {
		return nil, fmt.Errorf("service: nothing resolved: %w", ErrAccessDenied)
	}
	return resolved, nil
}
