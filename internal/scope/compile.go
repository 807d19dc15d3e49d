package scope

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"xiezhi/internal/models"
)

// compiledScope 启动时一次性解析的授权边界。
type compiledScope struct {
	src               *models.EngagementScope
	ranges            []netip.Prefix
	excluded          []netip.Prefix
	domains           []string
	excludedDomains   []string
	allowedPorts      map[int]bool
	excludedPorts     map[int]bool
	allowedMethods    map[string]bool
	prohibitedMethods map[string]bool
	windows           []window
	start, end        time.Time
}

type window struct {
	days       map[time.Weekday]bool // 空表示每天
	start, end int                   // 自午夜起的分钟数
	loc        *time.Location
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func compileScope(s *models.EngagementScope) (*compiledScope, error) {
	if s == nil {
		return nil, fmt.Errorf("scope: nil engagement scope")
	}
	c := &compiledScope{
		src:               s,
		allowedPorts:      make(map[int]bool),
		excludedPorts:     make(map[int]bool),
		allowedMethods:    make(map[string]bool),
		prohibitedMethods: make(map[string]bool),
		start:             s.StartDate,
		end:               s.EndDate,
	}
	var err error
	if c.ranges, err = parsePrefixes("ip_ranges", s.IPRanges); err != nil {
		return nil, err
	}
	if c.excluded, err = parsePrefixes("excluded_ips", s.ExcludedIPs); err != nil {
		return nil, err
	}
	if c.domains, err = parseDomains("domains", s.Domains); err != nil {
		return nil, err
	}
	if c.excludedDomains, err = parseDomains("excluded_domains", s.ExcludedDomains); err != nil {
		return nil, err
	}
	for _, p := range s.AllowedPorts {
		if p < 1 || p > 65535 {
			return nil, fmt.Errorf("scope: allowed_ports: %d out of range", p)
		}
		c.allowedPorts[p] = true
	}
	for _, p := range s.ExcludedPorts {
		if p < 1 || p > 65535 {
			return nil, fmt.Errorf("scope: excluded_ports: %d out of range", p)
		}
		c.excludedPorts[p] = true
	}
	for _, m := range s.AllowedMethods {
		c.allowedMethods[strings.ToLower(strings.TrimSpace(m))] = true
	}
	for _, m := range s.ProhibitedMethods {
		c.prohibitedMethods[strings.ToLower(strings.TrimSpace(m))] = true
	}
	for i, tw := range s.TimeWindows {
		w, err := compileWindow(tw)
		if err != nil {
			return nil, fmt.Errorf("scope: time_windows[%d]: %w", i, err)
		}
		c.windows = append(c.windows, w)
	}
	// 只有日期的结束时间包含当天
	if !c.end.IsZero() && c.end.Equal(truncateDay(c.end)) {
		c.end = c.end.Add(24 * time.Hour)
	}
	if !c.start.IsZero() && !c.end.IsZero() && !c.start.Before(c.end) {
		return nil, fmt.Errorf("scope: start_date %s is not before end_date %s", s.StartDate, s.EndDate)
	}
	return c, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// parsePrefix 接受 CIDR 或单个地址（转为 /32、/128）。
func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		if p.Addr().Is4In6() {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

func parsePrefixes(field string, in []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(in))
	for _, s := range in {
		p, err := parsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("scope: %s: %q: %w", field, s, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseDomains(field string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, d := range in {
		n := normalizeHost(d)
		if !isDomainName(strings.TrimPrefix(n, "*.")) {
			return nil, fmt.Errorf("scope: %s: invalid domain %q", field, d)
		}
		out = append(out, n)
	}
	return out, nil
}

func compileWindow(tw models.TimeWindow) (window, error) {
	w := window{loc: time.UTC}
	if tw.Timezone != "" {
		loc, err := time.LoadLocation(tw.Timezone)
		if err != nil {
			return w, err
		}
		w.loc = loc
	}
	var err error
	if w.start, err = parseClock(tw.Start); err != nil {
		return w, fmt.Errorf("start: %w", err)
	}
	if w.end, err = parseClock(tw.End); err != nil {
		return w, fmt.Errorf("end: %w", err)
	}
	if len(tw.Days) > 0 {
		w.days = make(map[time.Weekday]bool, len(tw.Days))
		for _, d := range tw.Days {
			wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
			if !ok {
				return w, fmt.Errorf("unknown day %q", d)
			}
			w.days[wd] = true
		}
	}
	return w, nil
}

func parseClock(s string) (int, error) {
	if s == "24:00" {
		return 24 * 60, nil
	}
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (w window) day(d time.Weekday) bool {
	return len(w.days) == 0 || w.days[d]
}

// contains End 不晚于 Start 表示跨午夜；午夜后的部分归属前一天。
func (w window) contains(t time.Time) bool {
	lt := t.In(w.loc)
	m := lt.Hour()*60 + lt.Minute()
	if w.start < w.end {
		return w.day(lt.Weekday()) && m >= w.start && m < w.end
	}
	if m >= w.start {
		return w.day(lt.Weekday())
	}
	if m < w.end {
		return w.day((lt.Weekday() + 6) % 7)
	}
	return false
}

func matchDomain(rule, host string) bool {
	if strings.HasPrefix(rule, "*.") {
		return strings.HasSuffix(host, rule[1:])
	}
	return rule == host
}

func (c *compiledScope) ipExcluded(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range c.excluded {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func (c *compiledScope) ipAllowed(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range c.ranges {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// addrInScope 排除优先，然后要求命中任一授权段。
func (c *compiledScope) addrInScope(a netip.Addr) (bool, string) {
	if c.ipExcluded(a) {
		return false, "explicitly excluded"
	}
	if !c.ipAllowed(a) {
		return false, "outside authorized ip ranges"
	}
	return true, ""
}

func (c *compiledScope) prefixExcluded(p netip.Prefix) bool {
	for _, x := range c.excluded {
		if x.Overlaps(p) {
			return true
		}
	}
	return false
}

// prefixAllowed 要求整个 CIDR 落在某一授权段内。
func (c *compiledScope) prefixAllowed(p netip.Prefix) bool {
	for _, r := range c.ranges {
		if r.Bits() <= p.Bits() && r.Contains(p.Addr()) {
			return true
		}
	}
	return false
}

func (c *compiledScope) domainExcluded(h string) bool {
	for _, r := range c.excludedDomains {
		if matchDomain(r, h) {
			return true
		}
	}
	return false
}

func (c *compiledScope) domainAllowed(h string) bool {
	for _, r := range c.domains {
		if matchDomain(r, h) {
			return true
		}
	}
	return false
}

func (c *compiledScope) inWindow(t time.Time) bool {
	if len(c.windows) == 0 {
		return true
	}
	for _, w := range c.windows {
		if w.contains(t) {
			return true
		}
	}
	return false
}
