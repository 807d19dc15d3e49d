package scope

import (
	"fmt"

	"xiezhi/internal/models"
	"xiezhi/internal/patterns"
)

// deterministic 破坏性/风险命令语料、IP 混淆、目标字段注入与端口。
func (e *Engine) deterministic(a *models.SecurityAction, lr *models.LayerResult) {
	for _, m := range e.patterns.Match(patterns.GroupDestructive, a.Command) {
		lr.Violations = append(lr.Violations, fmt.Sprintf("command matches destructive pattern %s (%s): %q", m.ID, m.Description, m.Text))
	}
	for _, m := range e.patterns.Match(patterns.GroupRisky, a.Command) {
		lr.Warnings = append(lr.Warnings, fmt.Sprintf("command matches risky pattern %s (%s)", m.ID, m.Description))
	}

	for _, f := range []struct{ name, value string }{
		{"target", a.Target},
		{"target_domain", a.TargetDomain},
		{"target_ip", a.TargetIP},
	} {
		for _, m := range e.patterns.Match(patterns.GroupInjection, f.value) {
			lr.Violations = append(lr.Violations, fmt.Sprintf("%s contains shell metacharacter %s (%s)", f.name, m.ID, m.Description))
		}
	}

	for _, t := range targetsOf(a.TargetIP, a.TargetDomain, a.Target) {
		e.checkObfuscation(t, lr)
	}

	for _, p := range a.TargetPorts {
		switch {
		case p < 1 || p > 65535:
			lr.Violations = append(lr.Violations, fmt.Sprintf("port %d is outside 1-65535", p))
		case e.scope.excludedPorts[p]:
			lr.Violations = append(lr.Violations, fmt.Sprintf("port %d is explicitly excluded", p))
		case len(e.scope.allowedPorts) > 0 && !e.scope.allowedPorts[p]:
			lr.Violations = append(lr.Violations, fmt.Sprintf("port %d is not in allowed ports", p))
		}
	}
}

// checkObfuscation 检查原始值及剥离 scheme/端口后的主机部分。
func (e *Engine) checkObfuscation(t parsedTarget, lr *models.LayerResult) {
	candidates := []string{t.raw}
	if t.host != "" && t.host != t.raw {
		candidates = append(candidates, t.host)
	}
	for _, s := range candidates {
		addr, ok := deobfuscateIPv4(s)
		if !ok {
			continue
		}
		if in, why := e.scope.addrInScope(addr); !in {
			lr.Violations = append(lr.Violations, fmt.Sprintf("%s uses %s ip notation %q which normalizes to %s, %s", t.field, obfuscationKind(s), s, addr, why))
		} else {
			lr.Warnings = append(lr.Warnings, fmt.Sprintf("%s uses %s ip notation %q (normalizes to %s)", t.field, obfuscationKind(s), s, addr))
		}
		return
	}
}
