package scope

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiezhi/internal/audit"
	"xiezhi/internal/models"
)

// 2026-03-04 是星期三
var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func baseScope() *models.EngagementScope {
	return &models.EngagementScope{
		EngagementID:   "eng-1",
		SessionID:      "sess-1",
		IPRanges:       []string{"192.168.1.0/24"},
		AllowedMethods: []string{"port_scan"},
	}
}

func scanAction() *models.SecurityAction {
	return &models.SecurityAction{
		ActionID:        "act-1",
		ActionType:      "port_scan",
		Method:          "port_scan",
		TargetIP:        "192.168.1.50",
		ToolName:        "nmap",
		Command:         "nmap -sS 192.168.1.50",
		Phase:           models.PhaseScanning,
		RequiresNetwork: true,
	}
}

func newEngine(t *testing.T, s *models.EngagementScope, opts ...Option) (*Engine, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore()
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithResolver(StaticResolver{}),
		WithNetworkPolicy(AllowAll{}),
		WithRecorder(audit.NewLogger(store)),
	}
	e, err := NewEngine(s, append(base, opts...)...)
	require.NoError(t, err)
	return e, store
}

func mustValidate(t *testing.T, e *Engine, a *models.SecurityAction) *models.ValidationResult {
	t.Helper()
	res, err := e.Validate(context.Background(), a)
	require.NoError(t, err)
	require.True(t, res.Consistent(), "valid/blocked_at inconsistent: %+v", res)
	return res
}

func violationsContain(res *models.ValidationResult, sub string) bool {
	for _, v := range res.Violations() {
		if strings.Contains(v, sub) {
			return true
		}
	}
	return false
}

func TestValidate_ScanInScopePassesAllLayers(t *testing.T) {
	e, store := newEngine(t, baseScope())
	res := mustValidate(t, e, scanAction())

	assert.True(t, res.Valid)
	assert.Equal(t, models.LayerNone, res.BlockedAt)
	require.Len(t, res.Layers, 3)
	for _, l := range res.Layers {
		assert.True(t, l.Valid, l.Layer)
		assert.False(t, l.Skipped, l.Layer)
	}

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventScopeValidation, events[0].EventType)
	assert.Equal(t, "sess-1", events[0].SessionID)
	assert.Equal(t, "act-1", events[0].CorrelationID)
	layers, ok := events[0].Details["layers"].([]any)
	require.True(t, ok)
	assert.Len(t, layers, 3)
}

func TestValidate_DestructiveCommandBlockedAtDeterministic(t *testing.T) {
	e, store := newEngine(t, baseScope())
	a := scanAction()
	a.Command = "rm -rf /"
	res := mustValidate(t, e, a)

	assert.False(t, res.Valid)
	assert.Equal(t, models.LayerDeterministic, res.BlockedAt)
	assert.True(t, violationsContain(res, "destructive pattern fs-rm-recursive-force"))
	assert.Len(t, res.Layers, 2, "network layer must not run after a deterministic failure")

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityCritical, events[0].Severity)
	assert.Contains(t, events[0].Tags, "blocked")
}

func TestValidate_ShortCircuitAtStructural(t *testing.T) {
	e, _ := newEngine(t, baseScope())
	a := scanAction()
	a.TargetIP = "10.0.0.5"
	a.Command = "rm -rf /"
	res := mustValidate(t, e, a)

	assert.Equal(t, models.LayerStructural, res.BlockedAt)
	require.Len(t, res.Layers, 1)
	assert.False(t, violationsContain(res, "destructive"))
}

func TestValidate_ExclusionBeatsInclusion(t *testing.T) {
	s := baseScope()
	s.ExcludedIPs = []string{"192.168.1.50"}
	e, _ := newEngine(t, s)
	res := mustValidate(t, e, scanAction())
	assert.Equal(t, models.LayerStructural, res.BlockedAt)
	assert.True(t, violationsContain(res, "explicitly excluded"))
}

func TestValidate_CIDRTarget(t *testing.T) {
	s := baseScope()
	s.ExcludedIPs = []string{"192.168.1.200/29"}
	e, _ := newEngine(t, s)

	a := scanAction()
	a.TargetIP = ""
	a.Target = "192.168.1.0/26"
	assert.True(t, mustValidate(t, e, a).Valid)

	a.Target = "10.0.0.0/8"
	res := mustValidate(t, e, a)
	assert.True(t, violationsContain(res, "not contained"))

	a.Target = "192.168.1.192/26"
	res = mustValidate(t, e, a)
	assert.True(t, violationsContain(res, "overlaps an excluded range"))
}

func TestValidate_Domains(t *testing.T) {
	s := baseScope()
	s.Domains = []string{"example.com", "*.corp.example.com"}
	s.ExcludedDomains = []string{"vpn.corp.example.com"}
	e, _ := newEngine(t, s, WithResolver(StaticResolver{
		"example.com":          {"192.168.1.10"},
		"app.corp.example.com": {"192.168.1.11"},
	}))

	tests := []struct {
		domain string
		valid  bool
	}{
		{"example.com", true},
		{"app.corp.example.com", true},
		{"corp.example.com", false},
		{"vpn.corp.example.com", false},
		{"evil.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			a := scanAction()
			a.TargetIP = ""
			a.TargetDomain = tt.domain
			res := mustValidate(t, e, a)
			assert.Equal(t, tt.valid, res.Valid, res.Violations())
		})
	}
}

func TestValidate_Methods(t *testing.T) {
	s := baseScope()
	s.AllowedMethods = []string{"port_scan", "exploit"}
	s.ProhibitedMethods = []string{"exploit"}
	e, _ := newEngine(t, s)

	a := scanAction()
	a.Method = "exploit"
	res := mustValidate(t, e, a)
	assert.True(t, violationsContain(res, "method exploit is prohibited"))

	a.Method = "brute_force"
	res = mustValidate(t, e, a)
	assert.True(t, violationsContain(res, "not in allowed methods"))

	a.Method = ""
	a.ActionType = "PORT_SCAN"
	assert.True(t, mustValidate(t, e, a).Valid, "method falls back to action_type")
}

func TestValidate_TimeWindowsAndDates(t *testing.T) {
	s := baseScope()
	s.TimeWindows = []models.TimeWindow{{Days: []string{"mon", "tue"}, Start: "09:00", End: "17:00"}}
	e, _ := newEngine(t, s)
	res := mustValidate(t, e, scanAction())
	assert.True(t, violationsContain(res, "outside every authorized time window"))

	s.TimeWindows = append(s.TimeWindows, models.TimeWindow{Days: []string{"wed"}, Start: "09:00", End: "11:00"})
	e, _ = newEngine(t, s)
	assert.True(t, mustValidate(t, e, scanAction()).Valid)

	s = baseScope()
	s.StartDate = testNow.Add(24 * time.Hour)
	e, _ = newEngine(t, s)
	assert.True(t, violationsContain(mustValidate(t, e, scanAction()), "has not started"))

	s = baseScope()
	s.EndDate = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	e, _ = newEngine(t, s)
	assert.True(t, mustValidate(t, e, scanAction()).Valid, "date-only end date includes the whole day")

	s.EndDate = testNow.Add(-time.Minute)
	e, _ = newEngine(t, s)
	assert.True(t, violationsContain(mustValidate(t, e, scanAction()), "has ended"))
}

func TestWindow_CrossesMidnight(t *testing.T) {
	w, err := compileWindow(models.TimeWindow{Days: []string{"wed"}, Start: "22:00", End: "06:00"})
	require.NoError(t, err)
	assert.True(t, w.contains(time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)))
	assert.True(t, w.contains(time.Date(2026, 3, 5, 5, 59, 0, 0, time.UTC)), "thursday early morning belongs to wednesday's window")
	assert.False(t, w.contains(time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)))
	assert.False(t, w.contains(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)))
}

func TestValidate_ThresholdIsWarningOnly(t *testing.T) {
	s := baseScope()
	s.ApprovalThreshold = models.RiskHigh
	e, _ := newEngine(t, s)
	a := scanAction()
	a.RiskLevel = models.RiskCritical
	res := mustValidate(t, e, a)
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Layer(models.LayerStructural).Warnings)
}

func TestValidate_NoTarget(t *testing.T) {
	e, _ := newEngine(t, baseScope())
	a := scanAction()
	a.TargetIP = ""
	res := mustValidate(t, e, a)
	assert.True(t, violationsContain(res, "declares no target"))

	a.RequiresNetwork = false
	res = mustValidate(t, e, a)
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Warnings())
}

func TestValidate_Obfuscation(t *testing.T) {
	e, _ := newEngine(t, baseScope())
	tests := []struct {
		name   string
		ip     string
		target string
		valid  bool
	}{
		{"hex in scope", "0xC0A80132", "", true},
		{"decimal out of scope", "167772165", "", false},
		{"octal out of scope in url", "", "http://012.0.0.5/admin", false},
		{"short form loopback", "", "127.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := scanAction()
			a.TargetIP, a.Target = tt.ip, tt.target
			res := mustValidate(t, e, a)
			assert.Equal(t, tt.valid, res.Valid, res.Violations())
			if !tt.valid {
				assert.Equal(t, models.LayerDeterministic, res.BlockedAt)
				assert.True(t, violationsContain(res, "ip notation"))
			} else {
				assert.NotEmpty(t, res.Layer(models.LayerDeterministic).Warnings)
			}
		})
	}
}

func TestValidate_InjectionInTarget(t *testing.T) {
	e, _ := newEngine(t, baseScope())
	for _, target := range []string{"192.168.1.50; cat /etc/passwd", "192.168.1.50 | nc x 1", "$(id)", "`id`", "192.168.1.50 && id"} {
		t.Run(target, func(t *testing.T) {
			a := scanAction()
			a.TargetIP = ""
			a.Target = target
			res := mustValidate(t, e, a)
			assert.False(t, res.Valid)
			assert.Equal(t, models.LayerDeterministic, res.BlockedAt)
			assert.True(t, violationsContain(res, "shell metacharacter"))
		})
	}
}

func TestValidate_Ports(t *testing.T) {
	s := baseScope()
	s.AllowedPorts = []int{22, 80, 443, 8080}
	s.ExcludedPorts = []int{8080}
	e, _ := newEngine(t, s)

	a := scanAction()
	a.TargetPorts = []int{80, 443}
	assert.True(t, mustValidate(t, e, a).Valid)

	for _, tt := range []struct {
		port int
		want string
	}{
		{0, "outside 1-65535"},
		{70000, "outside 1-65535"},
		{8080, "explicitly excluded"},
		{3306, "not in allowed ports"},
	} {
		a.TargetPorts = []int{80, tt.port}
		res := mustValidate(t, e, a)
		assert.True(t, violationsContain(res, tt.want), "port %d: %v", tt.port, res.Violations())
	}
}

func TestValidate_RiskyCommandWarns(t *testing.T) {
	e, _ := newEngine(t, baseScope())
	a := scanAction()
	a.Command = "sudo nmap -sS 192.168.1.50"
	res := mustValidate(t, e, a)
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Layer(models.LayerDeterministic).Warnings)
}

func TestValidate_NetworkLayerSkippedWhenOffline(t *testing.T) {
	e, _ := newEngine(t, baseScope())
	a := scanAction()
	a.RequiresNetwork = false
	res := mustValidate(t, e, a)
	nl := res.Layer(models.LayerNetwork)
	require.NotNil(t, nl)
	assert.True(t, nl.Skipped)
	assert.True(t, nl.Valid)
}

func TestValidate_DomainResolvingOutOfScopeIsViolation(t *testing.T) {
	s := baseScope()
	s.Domains = []string{"*.example.com"}
	e, _ := newEngine(t, s, WithResolver(StaticResolver{
		"in.example.com":  {"192.168.1.20"},
		"out.example.com": {"192.168.1.21", "8.8.8.8"},
	}))

	a := scanAction()
	a.TargetIP = ""
	a.TargetDomain = "in.example.com"
	assert.True(t, mustValidate(t, e, a).Valid)

	a.TargetDomain = "out.example.com"
	res := mustValidate(t, e, a)
	assert.Equal(t, models.LayerNetwork, res.BlockedAt)
	assert.True(t, violationsContain(res, "resolves to 8.8.8.8"))

	a.TargetDomain = "gone.example.com"
	res = mustValidate(t, e, a)
	assert.True(t, res.Valid, "unresolvable domain only warns")
	assert.NotEmpty(t, res.Layer(models.LayerNetwork).Warnings)
}

type partialResolver struct{ addrs []string }

func (p partialResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	out := make([]netip.Addr, len(p.addrs))
	for i, a := range p.addrs {
		out[i] = netip.MustParseAddr(a)
	}
	return out, &PartialResolutionError{Host: host, Failed: []string{"A"}, Err: errors.New("i/o timeout")}
}

func TestValidate_PartialResolutionWarnsAndChecksAnswers(t *testing.T) {
	s := baseScope()
	s.IPRanges = append(s.IPRanges, "2001:db8::/32")
	s.Domains = []string{"*.example.com"}
	a := scanAction()
	a.TargetIP = ""
	a.TargetDomain = "dual.example.com"

	e, _ := newEngine(t, s, WithResolver(partialResolver{addrs: []string{"2001:db8::7"}}))
	res := mustValidate(t, e, a)
	assert.True(t, res.Valid)
	warnings := strings.Join(res.Layer(models.LayerNetwork).Warnings, "\n")
	assert.Contains(t, warnings, "partially resolved")
	assert.Contains(t, warnings, "A records unchecked")

	e, _ = newEngine(t, s, WithResolver(partialResolver{addrs: []string{"2001:4860::8888"}}))
	res = mustValidate(t, e, a)
	assert.Equal(t, models.LayerNetwork, res.BlockedAt, "answered records are still scope-checked")
}

func TestValidate_NetworkPolicyDenies(t *testing.T) {
	s := baseScope()
	s.IPRanges = []string{"169.254.0.0/16", "192.168.1.0/24"}
	policy, err := NewCIDRPolicy(nil, []int{25})
	require.NoError(t, err)
	e, _ := newEngine(t, s, WithNetworkPolicy(policy))

	a := scanAction()
	a.TargetIP = "169.254.169.254"
	res := mustValidate(t, e, a)
	assert.Equal(t, models.LayerNetwork, res.BlockedAt)
	assert.True(t, violationsContain(res, "network policy denies"))

	a = scanAction()
	a.TargetPorts = []int{25}
	res = mustValidate(t, e, a)
	assert.True(t, violationsContain(res, "port 25 is blocked"))
}

type brokenPolicy struct{}

func (brokenPolicy) Check(context.Context, Destination) error { return errors.New("firewall api down") }

func TestValidate_PolicyErrorFailsClosed(t *testing.T) {
	e, _ := newEngine(t, baseScope(), WithNetworkPolicy(brokenPolicy{}))
	res := mustValidate(t, e, scanAction())
	assert.False(t, res.Valid)
	assert.True(t, violationsContain(res, "firewall api down"))
}

func TestValidate_MalformedAction(t *testing.T) {
	e, store := newEngine(t, baseScope())
	a := scanAction()
	a.ActionID = ""
	a.Phase = models.PhaseUnknown
	res, err := e.Validate(context.Background(), a)
	assert.Nil(t, res)
	var merr *MalformedActionError
	require.ErrorAs(t, err, &merr)
	assert.ErrorIs(t, err, ErrMalformedAction)
	fields := make([]string, len(merr.Fields))
	for i, f := range merr.Fields {
		fields[i] = f.Field
	}
	assert.ElementsMatch(t, []string{"action_id", "phase"}, fields)

	events := store.Events()
	require.Len(t, events, 1, "malformed actions are audited too")
	assert.Contains(t, events[0].Tags, "malformed")

	_, err = e.Validate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedAction)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *models.AuditEvent) error { return audit.ErrHalted }

func TestValidate_AuditFailureIsFatal(t *testing.T) {
	e, _ := newEngine(t, baseScope(), WithRecorder(failingRecorder{}))
	res, err := e.Validate(context.Background(), scanAction())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, audit.ErrHalted)
}

func TestNewEngine_InvalidScope(t *testing.T) {
	for name, s := range map[string]*models.EngagementScope{
		"bad cidr":   {IPRanges: []string{"300.1.1.0/24"}},
		"bad domain": {Domains: []string{"bad domain"}},
		"bad port":   {AllowedPorts: []int{0}},
		"bad window": {TimeWindows: []models.TimeWindow{{Start: "9am", End: "17:00"}}},
		"bad tz":     {TimeWindows: []models.TimeWindow{{Start: "09:00", End: "17:00", Timezone: "Mars/Olympus"}}},
		"bad dates":  {StartDate: testNow, EndDate: testNow.Add(-time.Hour)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewEngine(s)
			assert.Error(t, err)
		})
	}
}

func TestValidate_Deterministic(t *testing.T) {
	e, _ := newEngine(t, baseScope())
	a := scanAction()
	a.Target = "0xC0A80132"
	first := mustValidate(t, e, a)
	for i := 0; i < 5; i++ {
		again := mustValidate(t, e, a)
		assert.Equal(t, first.Valid, again.Valid)
		assert.Equal(t, first.Violations(), again.Violations())
		assert.Equal(t, first.Warnings(), again.Warnings())
	}
}
