package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiezhi/internal/approval"
	"xiezhi/internal/audit"
	"xiezhi/internal/config"
	"xiezhi/internal/models"
	"xiezhi/internal/risk"
	"xiezhi/internal/scope"
)

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Approval.Store.Driver)
	assert.Len(t, cfg.Approvers, 4)

	s, err := config.LoadScope(cfg.ScopePath)
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, s.ApprovalThreshold)
	_, err = scope.NewEngine(s)
	require.NoError(t, err)
	_, err = risk.NewEvaluator(cfg.Risk)
	require.NoError(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewRuntime_ValidateIsAudited(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scope.yaml"), `
engagement_id: eng-test
ip_ranges: [192.168.1.0/24]
allowed_methods: [port_scan]
`)
	writeFile(t, filepath.Join(dir, "config.yaml"), `
scope_path: scope.yaml
audit:
  path: audit/audit.jsonl
approval:
  store:
    driver: json
    path: approvals
network:
  allow_all: true
notify:
  log: false
`)
	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg, newLogger())
	require.NoError(t, err)
	res, err := rt.engine.Validate(ctx, &models.SecurityAction{
		ActionID:   "act-1",
		ActionType: "port_scan",
		TargetIP:   "192.168.1.50",
		ToolName:   "nmap",
		Command:    "nmap -sS 192.168.1.50",
		Phase:      models.PhaseScanning,
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	rt.Close()

	store, err := audit.NewJSONLStore(filepath.Join(dir, "audit", "audit.jsonl"))
	require.NoError(t, err)
	defer store.Close()
	events, err := store.QueryBySession(ctx, "eng-test")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventScopeValidation, events[0].EventType)
	assert.NoError(t, audit.Verify(events))
	assert.DirExists(t, filepath.Join(dir, "approvals"))
}

type highAssessor struct{}

func (highAssessor) Assess(a *models.SecurityAction, env *risk.Environment) *models.RiskAssessment {
	return &models.RiskAssessment{
		RiskLevel:                 models.RiskHigh,
		RecommendedTimeoutMinutes: 15,
		RequiredApproverLevel:     models.RoleSecurityLead,
	}
}

func TestPromptApproval_TerminalDecision(t *testing.T) {
	wf, err := approval.NewWorkflow(highAssessor{}, approval.Config{})
	require.NoError(t, err)
	defer wf.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := wf.RequestApproval(ctx, &models.SecurityAction{ActionID: "act-term", ActionType: "exploit", Phase: models.PhaseExploitation}, "agent-1", "", nil)
	require.NoError(t, err)

	promptApproval(ctx, wf, "act-term", "lead-1", strings.NewReader("maybe\ny\n"))

	got, err := wf.Get(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, got.Status)
	assert.Equal(t, "lead-1", got.DecidedBy)
	assert.Equal(t, "decided at terminal", got.Reason)
}

func TestPromptApproval_EOFLeavesPending(t *testing.T) {
	wf, err := approval.NewWorkflow(highAssessor{}, approval.Config{})
	require.NoError(t, err)
	defer wf.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := wf.RequestApproval(ctx, &models.SecurityAction{ActionID: "act-eof", ActionType: "exploit", Phase: models.PhaseExploitation}, "agent-1", "", nil)
	require.NoError(t, err)
	promptApproval(ctx, wf, "act-eof", "lead-1", strings.NewReader(""))

	got, err := wf.Get(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, got.Status)
}

func TestEnvOr(t *testing.T) {
	t.Setenv("XIEZHI_TEST_REQUESTER", "")
	t.Setenv("XIEZHI_TEST_USER", "bob")
	assert.Equal(t, "bob", envOr("default", "XIEZHI_TEST_REQUESTER", "XIEZHI_TEST_USER"))
	t.Setenv("XIEZHI_TEST_USER", "")
	assert.Equal(t, "default", envOr("default", "XIEZHI_TEST_REQUESTER", "XIEZHI_TEST_USER"))
}
