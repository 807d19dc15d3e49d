// Package risk 对安全动作做多因子加权风险评估，给出等级、条件、审批超时与审批人角色。
package risk

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"xiezhi/internal/models"
	"xiezhi/internal/patterns"
)

// Environment 评估时的部署上下文。
type Environment struct {
	Production           bool      `json:"production" yaml:"production"`
	ComplianceFrameworks []string  `json:"compliance_frameworks,omitempty" yaml:"compliance_frameworks,omitempty"`
	DataClassification   string    `json:"data_classification,omitempty" yaml:"data_classification,omitempty"`
	Now                  time.Time `json:"-" yaml:"-"` // 零值时使用评估器时钟
}

// Assessor 风险评估接口。
type Assessor interface {
	Assess(a *models.SecurityAction, env *Environment) *models.RiskAssessment
}

// Evaluator 纯函数式评估器：无 I/O，并发安全。
type Evaluator struct {
	cfg      Config
	patterns *patterns.Table
	clock    businessClock
	now      func() time.Time
}

// Option 配置 Evaluator。
type Option func(*Evaluator)

// WithPatterns 指定命令语料表；默认使用内置语料。
func WithPatterns(t *patterns.Table) Option { return func(e *Evaluator) { e.patterns = t } }

// WithClock 替换时钟（测试用）。
func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

// NewEvaluator 按配置创建；零值字段取默认。
func NewEvaluator(cfg Config, opts ...Option) (*Evaluator, error) {
	cfg = cfg.withDefaults()
	bc, err := cfg.BusinessHours.compile()
	if err != nil {
		return nil, err
	}
	e := &Evaluator{cfg: cfg, clock: bc, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	if e.patterns == nil {
		e.patterns = patterns.MustDefault()
	}
	return e, nil
}

// LevelForScore <0.3 LOW，<0.5 MEDIUM，<0.8 HIGH，其余 CRITICAL。
func LevelForScore(score float64) models.RiskLevel {
	switch {
	case score < 0.3:
		return models.RiskLow
	case score < 0.5:
		return models.RiskMedium
	case score < 0.8:
		return models.RiskHigh
	}
	return models.RiskCritical
}

// RoleForLevel 等级对应的最低审批角色（未做阶段升级）。
func RoleForLevel(l models.RiskLevel) models.ApproverRole {
	switch l {
	case models.RiskCritical:
		return models.RoleCISO
	case models.RiskHigh:
		return models.RoleSecurityLead
	case models.RiskMedium:
		return models.RoleSeniorPentester
	}
	return models.RoleAnalyst
}

type signals struct {
	destructive  []patterns.Match
	exfiltration []patterns.Match
	risky        []patterns.Match
	concurrency  []patterns.Match
	flood        []patterns.Match
	target       targetClass
	portCount    int
	offHours     bool
	offDays      bool
}

// Assess 计算各子项、总分与等级，并派生标志、条件、超时和审批角色。
func (e *Evaluator) Assess(a *models.SecurityAction, env *Environment) *models.RiskAssessment {
	if env == nil {
		env = &Environment{}
	}
	now := env.Now
	if now.IsZero() {
		now = e.now()
	}
	sig := e.collect(a, now)
	ra := &models.RiskAssessment{SubScores: make(map[models.RiskFactor]float64, 6)}
	add := func(f models.RiskFactor, v, limit float64, reason string) {
		v = math.Min(math.Max(v, 0), limit)
		ra.SubScores[f] = v
		if v > 0 && reason != "" {
			ra.RiskFactors = append(ra.RiskFactors, fmt.Sprintf("%s (+%.2f)", reason, v))
		}
	}

	add(models.FactorPhase, phaseScores[a.Phase], maxPhase, "phase "+a.Phase.String())

	tool := toolOf(a)
	if ts, ok := toolScores[tool]; ok {
		add(models.FactorTool, ts, maxTool, "tool "+tool)
	} else {
		name := tool
		if name == "" {
			name = "(none)"
		}
		add(models.FactorTool, unknownToolScore, maxTool, "unknown tool "+name)
	}

	ts, treason := targetScores[sig.target], ""
	if sig.target != targetNone {
		treason = "target looks like a " + targetNames[sig.target]
	}
	if env.Production {
		ts, treason = maxTarget, "production environment"
	}
	add(models.FactorTarget, ts, maxTarget, treason)

	cs, creason := 0.0, ""
	switch {
	case len(sig.destructive) > 0:
		cs, creason = commandDestructive, "command matches destructive pattern "+sig.destructive[0].ID
	case len(sig.exfiltration) > 0:
		cs, creason = commandExfiltration, "command matches data exfiltration pattern "+sig.exfiltration[0].ID
	case len(sig.risky) > 0:
		cs, creason = commandRisky, "command matches risky pattern "+sig.risky[0].ID
	}
	if a.IsDestructive && cs < declaredDestructive {
		cs, creason = declaredDestructive, "action declared destructive"
	}
	add(models.FactorCommand, cs, maxCommand, creason)

	ns := 0.0
	var nreasons []string
	switch {
	case sig.portCount > 1000:
		ns += portsOver1000
	case sig.portCount > 100:
		ns += portsOver100
	case sig.portCount > 10:
		ns += portsOver10
	case sig.portCount > 0:
		ns += portsAny
	}
	if sig.portCount > 0 {
		nreasons = append(nreasons, fmt.Sprintf("%d target ports", sig.portCount))
	}
	if len(sig.concurrency) > 0 {
		ns += concurrency
		nreasons = append(nreasons, "aggressive concurrency ("+sig.concurrency[0].Text+")")
	}
	if len(sig.flood) > 0 {
		ns += flood
		nreasons = append(nreasons, "traffic flood ("+sig.flood[0].ID+")")
	}
	add(models.FactorNetwork, ns, maxNetwork, "network impact: "+strings.Join(nreasons, ", "))

	tmp := 0.0
	var treasons []string
	if sig.offHours {
		tmp += offHoursBonus
		treasons = append(treasons, "outside business hours")
	}
	if sig.offDays {
		tmp += offDaysBonus
		treasons = append(treasons, "outside business days")
	}
	add(models.FactorTemporal, tmp, maxTemporal, strings.Join(treasons, ", "))

	total := 0.0
	for _, v := range ra.SubScores {
		total += v
	}
	// 四位小数，避免 0.1+0.2 之类的浮点误差跨越阈值
	ra.RiskScore = math.Round(math.Min(math.Max(total, 0), 1)*1e4) / 1e4
	ra.RiskLevel = LevelForScore(ra.RiskScore)
	if a.RiskLevel.Rank() > ra.RiskLevel.Rank() {
		ra.RiskFactors = append(ra.RiskFactors, fmt.Sprintf("declared risk level %s exceeds computed %s", a.RiskLevel, ra.RiskLevel))
		ra.RiskLevel = a.RiskLevel
	}

	ra.DestructivePotential = len(sig.destructive) > 0 || a.IsDestructive
	ra.DataExposureRisk = len(sig.exfiltration) > 0 || a.Phase == models.PhasePostExploitation ||
		(sig.target == targetDatabase && a.Phase == models.PhaseExploitation)
	ra.AvailabilityRisk = len(sig.flood) > 0 || len(sig.concurrency) > 0 || sig.portCount > 1000 || ra.DestructivePotential
	switch strings.ToLower(env.DataClassification) {
	case "restricted", "confidential":
		ra.ComplianceRisk = true
	}
	if len(env.ComplianceFrameworks) > 0 && (ra.DataExposureRisk || sig.target == targetDatabase) {
		ra.ComplianceRisk = true
	}

	ra.Impact = impactOf(ra)
	ra.Likelihood = likelihoodOf(ra.RiskScore)
	ra.RecommendedConditions = conditionsOf(ra, env)
	ra.RecommendedTimeoutMinutes = e.timeout(ra.RiskLevel, sig.offHours)
	ra.RequiredApproverLevel = RoleForLevel(ra.RiskLevel)
	if a.Phase == models.PhaseExploitation {
		ra.RequiredApproverLevel = ra.RequiredApproverLevel.Escalate()
	}
	return ra
}

func (e *Evaluator) collect(a *models.SecurityAction, now time.Time) signals {
	var s signals
	s.destructive = e.patterns.Match(patterns.GroupDestructive, a.Command)
	s.exfiltration = e.patterns.Match(patterns.GroupExfiltration, a.Command)
	s.risky = e.patterns.Match(patterns.GroupRisky, a.Command)
	for _, m := range e.patterns.Match(patterns.GroupAvailability, a.Command) {
		if m.Category == "flood" {
			s.flood = append(s.flood, m)
		} else {
			s.concurrency = append(s.concurrency, m)
		}
	}
	s.target = classifyTarget(a.Target, a.TargetDomain, a.TargetIP)
	s.portCount = portBreadth(a)
	s.offHours, s.offDays = e.clock.offHours(now)
	return s
}

// toolOf 优先取 ToolName，否则取命令首个词的文件名。
func toolOf(a *models.SecurityAction) string {
	name := strings.TrimSpace(a.ToolName)
	if name == "" {
		fields := strings.Fields(a.Command)
		for len(fields) > 0 && (fields[0] == "sudo" || strings.Contains(fields[0], "=")) {
			fields = fields[1:]
		}
		if len(fields) > 0 {
			name = fields[0]
		}
	}
	name = strings.ToLower(filepath.Base(name))
	if name == "." {
		return ""
	}
	return strings.TrimSuffix(name, ".py")
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

func classifyTarget(values ...string) targetClass {
	best := targetNone
	for _, v := range values {
		for _, tok := range tokenSplit.Split(strings.ToLower(v), -1) {
			tok = strings.TrimRight(tok, "0123456789")
			if c, ok := targetKeywords[tok]; ok && targetScores[c] > targetScores[best] {
				best = c
			}
		}
	}
	return best
}

var (
	allPortsRE  = regexp.MustCompile(`(?:^|\s)-p-(?:\s|$)|(?:^|\s)-p\s*1-65535\b`)
	portRangeRE = regexp.MustCompile(`(?:^|\s)(?:-p\s*|--ports?[ =])([0-9,\-]+)`)
	topPortsRE  = regexp.MustCompile(`--top-ports[ =](\d+)`)
)

// portBreadth 合并声明的端口与命令中的 -p/--top-ports 参数，估算探测的端口数量。
func portBreadth(a *models.SecurityAction) int {
	n := len(a.TargetPorts)
	cmd := a.Command
	if allPortsRE.MatchString(cmd) {
		return 65535
	}
	if m := topPortsRE.FindStringSubmatch(cmd); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v > n {
			n = v
		}
	}
	if m := portRangeRE.FindStringSubmatch(cmd); m != nil {
		if v := countPorts(m[1]); v > n {
			n = v
		}
	}
	return n
}

func countPorts(list string) int {
	total := 0
	for _, part := range strings.Split(list, ",") {
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			if _, err := strconv.Atoi(part); err == nil {
				total++
			}
			continue
		}
		l, err1 := strconv.Atoi(lo)
		h, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil || h < l {
			continue
		}
		total += h - l + 1
	}
	return total
}

func (e *Evaluator) timeout(l models.RiskLevel, offHours bool) int {
	m := e.cfg.timeoutFor(l)
	if offHours {
		m /= 2
	}
	if m < e.cfg.TimeoutFloorMinutes {
		m = e.cfg.TimeoutFloorMinutes
	}
	return m
}

func impactOf(ra *models.RiskAssessment) string {
	switch {
	case ra.DestructivePotential:
		return "high: potential irreversible damage to target systems"
	case ra.DataExposureRisk:
		return "moderate: sensitive data may be exposed"
	case ra.AvailabilityRisk:
		return "moderate: possible service degradation"
	case ra.RiskLevel.AtLeast(models.RiskMedium):
		return "low: intrusive but non-destructive activity"
	}
	return "minimal: read-only or reconnaissance activity"
}

func likelihoodOf(score float64) string {
	switch {
	case score >= 0.8:
		return "very likely"
	case score >= 0.5:
		return "likely"
	case score >= 0.3:
		return "possible"
	}
	return "unlikely"
}

func conditionsOf(ra *models.RiskAssessment, env *Environment) []string {
	var out []string
	if ra.RiskLevel.AtLeast(models.RiskMedium) {
		out = append(out, "log full command output")
	}
	if ra.RiskLevel.AtLeast(models.RiskHigh) {
		out = append(out, "real-time monitoring required", "rollback plan documented")
	}
	if ra.RiskLevel.AtLeast(models.RiskCritical) {
		out = append(out, "execute only inside an agreed maintenance window")
	}
	if ra.DestructivePotential {
		out = append(out, "verified backup of affected systems before execution")
	}
	if ra.DataExposureRisk {
		out = append(out, "no exfiltration of real data; use proof markers only")
	}
	if ra.AvailabilityRisk {
		out = append(out, "rate limiting enforced")
	}
	if ra.ComplianceRisk {
		out = append(out, "compliance officer notified")
	}
	if env.Production {
		out = append(out, "system owner on standby")
	}
	return out
}
