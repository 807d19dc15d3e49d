package scope

import (
	"net/netip"
	"strconv"
	"strings"
)

// deobfuscateIPv4 按 inet_aton 语义解析 1~4 段的 IPv4 写法：每段可为十进制、0 前缀八进制或 0x 前缀十六进制，
// 最后一段填满剩余字节。s 若本身是规范点分十进制则返回 ok=false（不属于混淆）。
func deobfuscateIPv4(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return netip.Addr{}, false
	}
	parts := strings.Split(s, ".")
	if len(parts) > 4 {
		return netip.Addr{}, false
	}
	vals := make([]uint64, len(parts))
	for i, p := range parts {
		v, ok := parseAtonPart(p)
		if !ok {
			return netip.Addr{}, false
		}
		vals[i] = v
	}
	n := len(vals) - 1
	for i := 0; i < n; i++ {
		if vals[i] > 0xff {
			return netip.Addr{}, false
		}
	}
	if vals[n] > uint64(1)<<(8*uint(4-n))-1 {
		return netip.Addr{}, false
	}
	var ip uint32
	for i := 0; i < n; i++ {
		ip |= uint32(vals[i]) << (24 - 8*uint(i))
	}
	ip |= uint32(vals[n])
	return netip.AddrFrom4([4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}), true
}

func parseAtonPart(p string) (uint64, bool) {
	if p == "" {
		return 0, false
	}
	base := 10
	digits := p
	switch {
	case len(p) > 2 && (p[:2] == "0x" || p[:2] == "0X"):
		base, digits = 16, p[2:]
	case len(p) > 1 && p[0] == '0':
		base, digits = 8, p[1:]
	}
	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, false
	}
	return v, true
}

// obfuscationKind 返回混淆写法的描述，用于违规信息。
func obfuscationKind(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	parts := strings.Split(s, ".")
	hex, oct := false, false
	for _, p := range parts {
		switch {
		case strings.HasPrefix(p, "0x"):
			hex = true
		case len(p) > 1 && p[0] == '0':
			oct = true
		}
	}
	switch {
	case hex && oct:
		return "mixed hex/octal"
	case hex:
		return "hexadecimal"
	case oct:
		return "octal"
	case len(parts) == 1:
		return "pure decimal"
	}
	return "shortened dotted"
}
