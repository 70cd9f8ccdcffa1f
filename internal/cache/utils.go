package cache

import (
	"errors"
	"fmt"
	"net"
)

var lookupHost = net.LookupHost

// ResolveValkeyAddrs prefers the explicit node list and falls back to
// resolving the headless service name.
func ResolveValkeyAddrs(nodes []string, svc string) ([]string, error) {
	if len(nodes) > 0 {
		return nodes, nil
	}

	if svc != "" {
		addrs, err := lookupHost(svc)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", svc, err)
		}
		var out []string
		for _, ip := range addrs {
			out = append(out, net.JoinHostPort(ip, "6379"))
		}
		return out, nil
	}

	return nil, errors.New("no Valkey discovery env provided (VALKEY_NODES or VALKEY_SERVICE)")
}
