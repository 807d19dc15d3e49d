package scope

import (
	"context"
	"fmt"
	"net/netip"
)

// Destination 网络层待放行的目的地。
type Destination struct {
	Addr   netip.Addr
	Prefix netip.Prefix // CIDR 目标时有效
	Ports  []int
	Source string // 来源描述，如 "target_ip" 或 "api.example.com"
}

// NetworkPolicy 执行环境提供的网络/防火墙视图。返回非 nil 错误即视为拒绝。
type NetworkPolicy interface {
	Check(ctx context.Context, d Destination) error
}

// PolicyDenial 策略明确拒绝。
type PolicyDenial struct {
	Dest   Destination
	Reason string
}

func (e *PolicyDenial) Error() string {
	target := e.Dest.Addr.String()
	if e.Dest.Prefix.IsValid() {
		target = e.Dest.Prefix.String()
	}
	return fmt.Sprintf("network policy denies %s: %s", target, e.Reason)
}

// DefaultBlockedCIDRs 默认禁止直连的地址段：云元数据、回环与链路本地。
var DefaultBlockedCIDRs = []string{
	"169.254.169.254/32",
	"fd00:ec2::254/128",
	"127.0.0.0/8",
	"::1/128",
	"169.254.0.0/16",
	"fe80::/10",
}

// CIDRPolicy 按地址段与端口黑名单拒绝。
type CIDRPolicy struct {
	blocked      []netip.Prefix
	blockedPorts map[int]bool
}

// NewCIDRPolicy cidrs 为 nil 时使用 DefaultBlockedCIDRs。
func NewCIDRPolicy(cidrs []string, blockedPorts []int) (*CIDRPolicy, error) {
	if cidrs == nil {
		cidrs = DefaultBlockedCIDRs
	}
	ps, err := parsePrefixes("blocked_cidrs", cidrs)
	if err != nil {
		return nil, err
	}
	p := &CIDRPolicy{blocked: ps, blockedPorts: make(map[int]bool, len(blockedPorts))}
	for _, port := range blockedPorts {
		p.blockedPorts[port] = true
	}
	return p, nil
}

func (p *CIDRPolicy) Check(ctx context.Context, d Destination) error {
	for _, b := range p.blocked {
		if d.Prefix.IsValid() && b.Overlaps(d.Prefix) {
			return &PolicyDenial{Dest: d, Reason: "overlaps blocked range " + b.String()}
		}
		if d.Addr.IsValid() && b.Contains(d.Addr.Unmap()) {
			return &PolicyDenial{Dest: d, Reason: "in blocked range " + b.String()}
		}
	}
	for _, port := range d.Ports {
		if p.blockedPorts[port] {
			return &PolicyDenial{Dest: d, Reason: fmt.Sprintf("port %d is blocked", port)}
		}
	}
	return nil
}

// AllowAll 不做任何网络限制。
type AllowAll struct{}

func (AllowAll) Check(context.Context, Destination) error { return nil }
