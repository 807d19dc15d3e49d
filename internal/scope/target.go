package scope

import (
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

type targetKind int

const (
	kindUnknown targetKind = iota
	kindIP
	kindCIDR
	kindDomain
)

// parsedTarget 目标字段的结构化解析结果。host 为剥离 scheme/端口后的主机部分（无法识别时也保留，供确定性层检查）。
type parsedTarget struct {
	field  string
	raw    string
	kind   targetKind
	host   string
	addr   netip.Addr
	prefix netip.Prefix
	port   int
}

var domainRE = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// isDomainName 返回 s 是否为合法主机域名（至少两级、顶级域为字母）。
func isDomainName(s string) bool {
	return len(s) <= 253 && domainRE.MatchString(s)
}

func normalizeHost(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
}

// classifyTarget 识别 IP、CIDR、host:port、URL 与域名；其余一律 kindUnknown。
func classifyTarget(field, raw string) parsedTarget {
	t := parsedTarget{field: field, raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return t
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return t
		}
		t.host = u.Hostname()
		if p, err := strconv.Atoi(u.Port()); err == nil {
			t.port = p
		}
		classifyHost(&t, t.host)
		return t
	}
	if pfx, err := netip.ParsePrefix(s); err == nil {
		t.kind = kindCIDR
		t.prefix = pfx.Masked()
		t.host = s
		return t
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		t.kind = kindIP
		t.addr = addr.Unmap()
		t.host = s
		return t
	}
	if h, p, err := net.SplitHostPort(s); err == nil {
		t.host = h
		if n, err := strconv.Atoi(p); err == nil {
			t.port = n
		}
		classifyHost(&t, h)
		return t
	}
	t.host = s
	classifyHost(&t, s)
	return t
}

func classifyHost(t *parsedTarget, host string) {
	if addr, err := netip.ParseAddr(host); err == nil {
		t.kind = kindIP
		t.addr = addr.Unmap()
		return
	}
	if h := normalizeHost(host); isDomainName(h) {
		t.kind = kindDomain
		t.host = h
	}
}

// targets 按 target_ip、target_domain、target 顺序解析动作声明的全部目标。
func targetsOf(ip, domain, target string) []parsedTarget {
	var out []parsedTarget
	if ip != "" {
		out = append(out, classifyTarget("target_ip", ip))
	}
	if domain != "" {
		out = append(out, classifyTarget("target_domain", domain))
	}
	if target != "" {
		out = append(out, classifyTarget("target", target))
	}
	return out
}
