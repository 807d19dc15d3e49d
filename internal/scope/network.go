package scope

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"xiezhi/internal/models"
)

// network 对字面/归一化地址与 DNS 解析结果复核授权边界，并咨询执行环境的网络策略。
func (e *Engine) network(ctx context.Context, a *models.SecurityAction, lr *models.LayerResult) {
	check := func(d Destination) {
		if err := e.policy.Check(ctx, d); err != nil {
			var denial *PolicyDenial
			if errors.As(err, &denial) {
				lr.Violations = append(lr.Violations, fmt.Sprintf("%s: %s", d.Source, denial.Error()))
			} else {
				lr.Violations = append(lr.Violations, fmt.Sprintf("%s: network policy check failed: %v", d.Source, err))
			}
		}
	}
	seen := make(map[netip.Addr]bool)
	resolved := make(map[string]bool)
	for _, t := range targetsOf(a.TargetIP, a.TargetDomain, a.Target) {
		switch t.kind {
		case kindIP:
			if seen[t.addr] {
				continue
			}
			seen[t.addr] = true
			if ok, why := e.scope.addrInScope(t.addr); !ok {
				lr.Violations = append(lr.Violations, fmt.Sprintf("%s %s is %s", t.field, t.addr, why))
			}
			check(Destination{Addr: t.addr, Ports: a.TargetPorts, Source: t.field})
		case kindCIDR:
			check(Destination{Prefix: t.prefix, Ports: a.TargetPorts, Source: t.field})
		case kindDomain:
			if resolved[t.host] {
				continue
			}
			resolved[t.host] = true
			addrs, err := e.resolver.Resolve(ctx, t.host)
			var partial *PartialResolutionError
			switch {
			case err == nil:
			case errors.As(err, &partial) && len(addrs) > 0:
				lr.Warnings = append(lr.Warnings, fmt.Sprintf("domain %s partially resolved; %s records unchecked: %v",
					t.host, strings.Join(partial.Failed, "/"), partial.Err))
			default:
				lr.Warnings = append(lr.Warnings, fmt.Sprintf("domain %s could not be resolved: %v", t.host, err))
				continue
			}
			for _, addr := range addrs {
				if seen[addr] {
					continue
				}
				seen[addr] = true
				if ok, why := e.scope.addrInScope(addr); !ok {
					lr.Violations = append(lr.Violations, fmt.Sprintf("domain %s resolves to %s which is %s", t.host, addr, why))
				}
				check(Destination{Addr: addr, Ports: a.TargetPorts, Source: t.host})
			}
		default:
			if addr, ok := deobfuscateIPv4(t.host); ok && !seen[addr] {
				seen[addr] = true
				check(Destination{Addr: addr, Ports: a.TargetPorts, Source: t.field})
			}
		}
	}
}
