package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiezhi/internal/models"
	"xiezhi/internal/ownership"
)

type fakeChannel struct {
	name  string
	err   error
	delay time.Duration
	panic bool

	mu   sync.Mutex
	msgs []*Message
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, msg *Message) error {
	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) received() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.msgs...)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func pending() *models.ApprovalRequest {
	return &models.ApprovalRequest{
		RequestID:    "req-1",
		Action:       models.SecurityAction{ActionID: "a1", ActionType: "exploit", Target: "db01.corp.local", Phase: models.PhaseExploitation},
		Risk:         models.RiskAssessment{RiskLevel: models.RiskHigh, RiskScore: 0.72, RiskFactors: []string{"phase exploitation (+0.30)"}},
		RequestedBy:  "planner-1",
		RequiredRole: models.RoleSecurityLead,
		Conditions:   []string{"real-time monitoring required"},
		Status:       models.ApprovalPending,
		TimeoutAt:    time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC),
	}
}

func TestDispatch_FanOutAndFailureIsolation(t *testing.T) {
	ok := &fakeChannel{name: "ok"}
	bad := &fakeChannel{name: "bad", err: errors.New("unreachable")}
	slow := &fakeChannel{name: "slow", delay: time.Second}
	crash := &fakeChannel{name: "crash", panic: true}

	var (
		mu       sync.Mutex
		failures []*DeliveryError
	)
	m := NewManager(nil, []Channel{ok, bad, slow, crash},
		WithTimeout(50*time.Millisecond),
		WithLogger(quiet),
		WithFailureHook(func(e *DeliveryError) {
			mu.Lock()
			failures = append(failures, e)
			mu.Unlock()
		}))

	start := time.Now()
	got := m.Dispatch(context.Background(), pending(), TypeApprovalRequest)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "slow channel bounded by timeout")
	assert.Equal(t, map[string]bool{"ok": true, "bad": false, "slow": false, "crash": false}, got)
	assert.Len(t, failures, 3)
	for _, f := range failures {
		assert.Equal(t, "req-1", f.RequestID)
		assert.Error(t, f.Unwrap())
	}
	require.Len(t, ok.received(), 1)
	assert.True(t, ok.received()[0].Actionable)
}

func TestDispatch_NoChannels(t *testing.T) {
	m := NewManager(nil, nil)
	assert.Empty(t, m.Dispatch(context.Background(), pending(), TypeApprovalRequest))
	assert.Empty(t, m.Dispatch(context.Background(), nil, TypeApprovalRequest))
}

func TestDispatch_Recipients(t *testing.T) {
	dir := ownership.NewStaticDirectory([]ownership.Approver{
		{ID: "sam", Role: models.RoleSeniorPentester, Contacts: map[string]string{"ch": "ou_sam"}},
		{ID: "lee", Role: models.RoleSecurityLead, Contacts: map[string]string{"ch": "ou_lee"}},
		{ID: "planner-1", Role: models.RoleAnalyst, Contacts: map[string]string{"ch": "ou_planner"}},
	}, nil)
	ch := &fakeChannel{name: "ch"}
	m := NewManager(dir, []Channel{ch}, WithLogger(quiet))

	req := pending()
	m.Dispatch(context.Background(), req, TypeApprovalRequest)
	req.Status, req.DecidedBy = models.ApprovalApproved, "lee"
	m.Dispatch(context.Background(), req, TypeApprovalResult)

	msgs := ch.received()
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"ou_lee"}, msgs[0].Recipients, "only roles that satisfy security_lead")
	assert.Equal(t, []string{"ou_planner"}, msgs[1].Recipients, "results go to the requester")
	assert.False(t, msgs[1].Actionable)
}

func TestCompose(t *testing.T) {
	msg := Compose(pending(), TypeApprovalRequest)
	assert.Equal(t, "[xiezhi] approval required: exploit on db01.corp.local (high)", msg.Title)
	assert.Contains(t, msg.Body, "Required role: security_lead")
	assert.Contains(t, msg.Body, "Deadline: 2026-03-04T10:15:00Z")
	assert.Contains(t, msg.Body, "Conditions: real-time monitoring required")

	req := pending()
	req.Status, req.Reason = models.ApprovalTimeout, "approval timed out"
	msg = Compose(req, TypeTimeout)
	assert.Equal(t, "[xiezhi] approval timed out: action a1", msg.Title)
	assert.Contains(t, msg.Body, "Status: timeout")
	assert.Contains(t, msg.Body, "Reason: approval timed out")
	assert.False(t, msg.Actionable)
}

func TestDispatch_SnapshotIsolation(t *testing.T) {
	ch := &fakeChannel{name: "ch"}
	m := NewManager(nil, []Channel{ch}, WithLogger(quiet))
	req := pending()
	m.Dispatch(context.Background(), req, TypeApprovalRequest)
	ch.received()[0].Request.Conditions[0] = "tampered"
	assert.Equal(t, "real-time monitoring required", req.Conditions[0])
}
