package scope

import (
	"fmt"
	"strings"
	"time"

	"xiezhi/internal/models"
)

// structural 目标归属、方法白/黑名单、时间窗与起止日期。
func (e *Engine) structural(a *models.SecurityAction, now time.Time, lr *models.LayerResult) {
	c := e.scope
	targets := targetsOf(a.TargetIP, a.TargetDomain, a.Target)
	if len(targets) == 0 {
		if a.RequiresNetwork {
			lr.Violations = append(lr.Violations, "network action declares no target")
		} else {
			lr.Warnings = append(lr.Warnings, "action declares no target")
		}
	}
	for _, t := range targets {
		switch t.kind {
		case kindIP:
			if ok, why := c.addrInScope(t.addr); !ok {
				lr.Violations = append(lr.Violations, fmt.Sprintf("%s %s is %s", t.field, t.addr, why))
			}
		case kindCIDR:
			switch {
			case c.prefixExcluded(t.prefix):
				lr.Violations = append(lr.Violations, fmt.Sprintf("%s range %s overlaps an excluded range", t.field, t.prefix))
			case !c.prefixAllowed(t.prefix):
				lr.Violations = append(lr.Violations, fmt.Sprintf("%s range %s is not contained in authorized ip ranges", t.field, t.prefix))
			}
		case kindDomain:
			switch {
			case c.domainExcluded(t.host):
				lr.Violations = append(lr.Violations, fmt.Sprintf("%s domain %s is explicitly excluded", t.field, t.host))
			case !c.domainAllowed(t.host):
				lr.Violations = append(lr.Violations, fmt.Sprintf("%s domain %s is not in authorized domains", t.field, t.host))
			}
		default:
			lr.Warnings = append(lr.Warnings, fmt.Sprintf("%s %q is not a plain ip, range or domain; deferred to deterministic checks", t.field, t.raw))
		}
	}

	method := strings.ToLower(strings.TrimSpace(a.EffectiveMethod()))
	switch {
	case c.prohibitedMethods[method]:
		lr.Violations = append(lr.Violations, fmt.Sprintf("method %s is prohibited", method))
	case len(c.allowedMethods) > 0 && !c.allowedMethods[method]:
		lr.Violations = append(lr.Violations, fmt.Sprintf("method %s is not in allowed methods", method))
	}

	switch {
	case !c.start.IsZero() && now.Before(c.start):
		lr.Violations = append(lr.Violations, fmt.Sprintf("engagement has not started (starts %s)", c.start.Format(time.RFC3339)))
	case !c.end.IsZero() && !now.Before(c.end):
		lr.Violations = append(lr.Violations, fmt.Sprintf("engagement has ended (ended %s)", c.end.Format(time.RFC3339)))
	}
	if !c.inWindow(now) {
		lr.Violations = append(lr.Violations, fmt.Sprintf("current time %s is outside every authorized time window", now.UTC().Format(time.RFC3339)))
	}

	if th := c.src.ApprovalThreshold; th != models.RiskUnset && a.RiskLevel != models.RiskUnset && a.RiskLevel.AtLeast(th) {
		lr.Warnings = append(lr.Warnings, fmt.Sprintf("declared risk %s is at or above approval threshold %s", a.RiskLevel, th))
	}
}
