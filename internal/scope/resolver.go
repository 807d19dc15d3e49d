package scope

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

var (
	// ErrNXDomain 上游明确返回域名不存在。
	ErrNXDomain = errors.New("scope: domain does not exist")
	// ErrNoRecords 域名存在但无 A/AAAA 记录。
	ErrNoRecords = errors.New("scope: no address records")
)

// PartialResolutionError 部分记录类型解析失败而其余类型有应答；与已得到的地址一并返回。
type PartialResolutionError struct {
	Host   string
	Failed []string // 失败的记录类型，如 "A"
	Err    error
}

func (e *PartialResolutionError) Error() string {
	return fmt.Sprintf("scope: resolve %s: %s lookup failed: %v", e.Host, strings.Join(e.Failed, "/"), e.Err)
}

func (e *PartialResolutionError) Unwrap() error { return e.Err }

// Resolver 将域名解析为地址列表。返回 *PartialResolutionError 时地址列表仍然有效但不完整。
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]netip.Addr, error)
}

// DNSConfig 上游解析配置。
type DNSConfig struct {
	Upstreams []string      // host:port；为空时读取 /etc/resolv.conf，再回退到公共解析器
	Timeout   time.Duration // 单次查询超时，默认 2s
	CacheTTL  time.Duration // 缓存上限，0 表示按记录 TTL；负数关闭缓存
}

var fallbackUpstreams = []string{"8.8.8.8:53", "1.1.1.1:53", "223.5.5.5:53"}

type cacheEntry struct {
	addrs    []netip.Addr
	expireAt time.Time
}

// DNSResolver 通过 miekg/dns 直接查询上游的 A 与 AAAA 记录，按 TTL 缓存结果。
type DNSResolver struct {
	upstreams []string
	client    *dns.Client
	maxTTL    time.Duration
	mu        sync.RWMutex
	cache     map[string]cacheEntry
	now       func() time.Time
}

// NewDNSResolver 按配置创建解析器。
func NewDNSResolver(cfg DNSConfig) *DNSResolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ups := append([]string(nil), cfg.Upstreams...)
	if len(ups) == 0 {
		ups = systemUpstreams()
	}
	for i, u := range ups {
		if _, _, err := net.SplitHostPort(u); err != nil {
			ups[i] = net.JoinHostPort(u, "53")
		}
	}
	return &DNSResolver{
		upstreams: ups,
		client:    &dns.Client{Timeout: timeout},
		maxTTL:    cfg.CacheTTL,
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
	}
}

func systemUpstreams() []string {
	cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cc.Servers) == 0 {
		return append([]string(nil), fallbackUpstreams...)
	}
	out := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		out = append(out, net.JoinHostPort(s, cc.Port))
	}
	return out
}

// Resolve 依次查询 A、AAAA；每种记录按上游顺序尝试直到某个上游给出权威结论。
func (r *DNSResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	host = normalizeHost(host)
	if addrs, ok := r.cached(host); ok {
		return addrs, nil
	}
	var (
		out     []netip.Addr
		minTTL  uint32
		nx      bool
		lastErr error
		failed  []string
	)
	fqdn := dns.Fqdn(host)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(fqdn, qtype)
		m.RecursionDesired = true
		answered := false
		for _, upstream := range r.upstreams {
			in, _, err := r.client.ExchangeContext(ctx, m, upstream)
			if err != nil {
				lastErr = err
				continue
			}
			if in.Rcode == dns.RcodeNameError {
				nx = true
				answered = true
				break
			}
			if in.Rcode != dns.RcodeSuccess {
				lastErr = fmt.Errorf("upstream %s: rcode %s", upstream, dns.RcodeToString[in.Rcode])
				continue
			}
			for _, rr := range in.Answer {
				var ip net.IP
				switch v := rr.(type) {
				case *dns.A:
					ip = v.A
				case *dns.AAAA:
					ip = v.AAAA
				default:
					continue
				}
				if a, ok := netip.AddrFromSlice(ip); ok {
					out = append(out, a.Unmap())
					if ttl := rr.Header().Ttl; minTTL == 0 || ttl < minTTL {
						minTTL = ttl
					}
				}
			}
			answered = true
			break
		}
		if nx {
			break
		}
		if !answered {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed = append(failed, dns.TypeToString[qtype])
		}
	}
	if len(out) == 0 {
		switch {
		case nx:
			return nil, fmt.Errorf("%w: %s", ErrNXDomain, host)
		case lastErr != nil:
			return nil, fmt.Errorf("scope: resolve %s: %w", host, lastErr)
		}
		return nil, fmt.Errorf("%w: %s", ErrNoRecords, host)
	}
	if len(failed) > 0 {
		return out, &PartialResolutionError{Host: host, Failed: failed, Err: lastErr}
	}
	r.store(host, out, time.Duration(minTTL)*time.Second)
	return out, nil
}

func (r *DNSResolver) cached(host string) ([]netip.Addr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[host]
	if !ok || r.now().After(e.expireAt) {
		return nil, false
	}
	return append([]netip.Addr(nil), e.addrs...), true
}

func (r *DNSResolver) store(host string, addrs []netip.Addr, ttl time.Duration) {
	if r.maxTTL < 0 || ttl <= 0 {
		return
	}
	if r.maxTTL > 0 && ttl > r.maxTTL {
		ttl = r.maxTTL
	}
	r.mu.Lock()
	r.cache[host] = cacheEntry{addrs: addrs, expireAt: r.now().Add(ttl)}
	r.mu.Unlock()
}

// StaticResolver 固定映射解析器，用于离线评估与测试。
type StaticResolver map[string][]string

func (s StaticResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	host = normalizeHost(host)
	raw, ok := s[host]
	if !ok {
		for k, v := range s {
			if strings.EqualFold(normalizeHost(k), host) {
				raw, ok = v, true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNXDomain, host)
	}
	out := make([]netip.Addr, 0, len(raw))
	for _, r := range raw {
		a, err := netip.ParseAddr(r)
		if err != nil {
			return nil, fmt.Errorf("scope: static record %s: %w", host, err)
		}
		out = append(out, a.Unmap())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecords, host)
	}
	return out, nil
}
