package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"xiezhi/internal/audit"
	"xiezhi/internal/models"
	"xiezhi/internal/notify"
	"xiezhi/internal/ownership"
	"xiezhi/internal/risk"
)

// entry 单个请求的生命周期。mu 保护 req/timer/err；done 在任一终态转移时关闭。
// 锁顺序：持有 entry.mu 时可获取 Workflow.mu，反之不可（尚未发布的新 entry 除外）。
type entry struct {
	mu    sync.Mutex
	req   *models.ApprovalRequest
	timer *time.Timer
	done  chan struct{}
	err   error // 终态转移时持久化或审计失败
}

// Workflow 审批状态机。不同请求之间互不加锁；同一请求的转移按 entry.mu 线性化，仅第一次生效。
type Workflow struct {
	assessor risk.Assessor
	cfg      Config
	store    Store
	notifier notify.Dispatcher
	recorder audit.Recorder
	dir      ownership.Directory
	rules    *ownership.RuleMatcher
	now      func() time.Time
	log      *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	pending map[string]string                 // action_id -> 挂起中的 request_id
	grants  map[string]*models.ApprovalRecord // action_id -> 最近一次批准
	closed  bool
}

// Option 配置 Workflow。
type Option func(*Workflow)

// WithStore 审批记录存储，默认 MemoryStore。
func WithStore(s Store) Option { return func(w *Workflow) { w.store = s } }

// WithNotifier 通知分发；nil 表示不通知。
func WithNotifier(d notify.Dispatcher) Option { return func(w *Workflow) { w.notifier = d } }

// WithRecorder 审计写入点。
func WithRecorder(r audit.Recorder) Option { return func(w *Workflow) { w.recorder = r } }

// WithDirectory 启用审批人角色校验：ProcessApproval 要求审批人已登记且角色不低于请求要求。
func WithDirectory(d ownership.Directory) Option { return func(w *Workflow) { w.dir = d } }

// WithRules 按方法与风险等级覆盖要求角色与超时。
func WithRules(m *ownership.RuleMatcher) Option { return func(w *Workflow) { w.rules = m } }

func WithClock(now func() time.Time) Option { return func(w *Workflow) { w.now = now } }
func WithLogger(l *slog.Logger) Option { return func(w *Workflow) { w.log = l } }

// NewWorkflow assessor 必填。
func NewWorkflow(assessor risk.Assessor, cfg Config, opts ...Option) (*Workflow, error) {
	if assessor == nil {
		return nil, errors.New("approval: nil risk assessor")
	}
	w := &Workflow{
		assessor: assessor,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		log:      slog.Default(),
		entries:  make(map[string]*entry),
		pending:  make(map[string]string),
		grants:   make(map[string]*models.ApprovalRecord),
	}
	for _, o := range opts {
		o(w)
	}
	if w.store == nil {
		w.store = NewMemoryStore()
	}
	return w, nil
}

// Config 返回生效配置（已填默认值）。
func (w *Workflow) Config() Config { return w.cfg }

// RequestApproval 评估风险并创建审批请求。
// 风险不高于自动批准上限时直接返回 approved（审批人 system，不发通知）；
// 同一 action_id 已有挂起请求时返回该请求；否则创建 pending 请求、启动超时计时器并通知审批人。
func (w *Workflow) RequestApproval(ctx context.Context, a *models.SecurityAction, requester, justification string, env *risk.Environment) (*models.ApprovalRequest, error) {
	if a == nil || a.ActionID == "" {
		return nil, errors.New("approval: action with action_id required")
	}
	ra := w.assessor.Assess(a, env)
	if ra == nil {
		return nil, fmt.Errorf("approval: no risk assessment for %s", a.ActionID)
	}
	if ra.RiskLevel.AtMost(w.cfg.AutoApproveMax) {
		return w.autoApprove(ctx, a, ra, requester, justification)
	}

	for attempt := 0; attempt < 3; attempt++ {
		e, fresh, err := w.claim(a, ra, requester, justification)
		if err != nil {
			return nil, err
		}
		if fresh {
			return w.open(ctx, e)
		}
		e.mu.Lock()
		if e.req.Status == models.ApprovalPending && !e.req.Expired(w.now()) {
			if fp := e.req.Action.Fingerprint(); fp != a.Fingerprint() {
				id := e.req.RequestID
				e.mu.Unlock()
				w.log.Warn("resubmitted action differs from pending request", "request_id", id, "action_id", a.ActionID)
				return nil, fmt.Errorf("%w: %s (request %s)", ErrMutatedResubmission, a.ActionID, id)
			}
			c := e.req.Clone()
			e.mu.Unlock()
			w.log.Debug("approval already pending", "request_id", c.RequestID, "action_id", a.ActionID)
			return c, nil
		}
		var snap *models.ApprovalRequest
		if e.req.Status == models.ApprovalPending {
			if err := w.finishLocked(ctx, e, models.ApprovalTimeout, models.SystemApprover, ReasonTimeout, nil); err != nil {
				w.log.Error("approval timeout not recorded", "request_id", e.req.RequestID, "error", err)
			}
			snap = e.req.Clone()
		}
		e.mu.Unlock()
		if snap != nil {
			w.dispatch(ctx, snap, notify.TypeTimeout)
		}
	}
	return nil, fmt.Errorf("approval: could not register request for %s", a.ActionID)
}

// claim 在 Workflow.mu 下查找挂起请求，不存在则登记一个新 entry（返回时新 entry 的 mu 已持有）。
func (w *Workflow) claim(a *models.SecurityAction, ra *models.RiskAssessment, requester, justification string) (*entry, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, false, ErrClosed
	}
	if id, ok := w.pending[a.ActionID]; ok {
		if e, ok := w.entries[id]; ok {
			return e, false, nil
		}
		delete(w.pending, a.ActionID)
	}
	now := w.now()
	role, minutes := w.rules.Match(a.EffectiveMethod(), ra.RiskLevel).Apply(ra.RequiredApproverLevel, ra.RecommendedTimeoutMinutes)
	if minutes <= 0 {
		minutes = 1
	}
	req := &models.ApprovalRequest{
		RequestID:     uuid.New().String(),
		Action:        *a,
		Risk:          *ra,
		RequestedBy:   requester,
		Justification: justification,
		RequestedAt:   now,
		TimeoutAt:     now.Add(time.Duration(minutes) * w.cfg.TimeoutUnit),
		RequiredRole:  role,
		Conditions:    append([]string(nil), ra.RecommendedConditions...),
		Status:        models.ApprovalPending,
	}
	req = req.Clone()
	e := &entry{req: req, done: make(chan struct{})}
	e.mu.Lock()
	w.entries[req.RequestID] = e
	w.pending[a.ActionID] = req.RequestID
	return e, true, nil
}

// open 持久化、审计新请求并启动计时器，随后在锁外扇出通知。调用时持有 e.mu。
func (w *Workflow) open(ctx context.Context, e *entry) (*models.ApprovalRequest, error) {
	req := e.req
	fail := func(err error) (*models.ApprovalRequest, error) {
		req.Status = models.ApprovalCancelled
		req.Reason = "request not recorded"
		close(e.done)
		e.err = err
		w.mu.Lock()
		delete(w.pending, req.Action.ActionID)
		delete(w.entries, req.RequestID)
		w.mu.Unlock()
		e.mu.Unlock()
		return nil, err
	}
	if err := w.store.Put(ctx, req.Record(w.cfg.GrantValidity)); err != nil {
		return fail(fmt.Errorf("approval: persist %s: %w", req.RequestID, err))
	}
	if err := w.audit(ctx, req, models.EventApprovalRequested, models.ActorAgent, req.RequestedBy); err != nil {
		return fail(err)
	}
	id := req.RequestID
	e.timer = time.AfterFunc(req.TimeoutAt.Sub(w.now()), func() { w.expire(id) })
	snap := req.Clone()
	e.mu.Unlock()

	w.log.Info("approval requested",
		"request_id", id,
		"action_id", snap.Action.ActionID,
		"risk_level", snap.Risk.RiskLevel.String(),
		"required_role", snap.RequiredRole.String(),
		"timeout_at", snap.TimeoutAt)

	outcomes := w.dispatch(ctx, snap, notify.TypeApprovalRequest)
	e.mu.Lock()
	if outcomes != nil {
		e.req.Notifications = outcomes
	}
	out := e.req.Clone()
	e.mu.Unlock()
	return out, nil
}

func (w *Workflow) autoApprove(ctx context.Context, a *models.SecurityAction, ra *models.RiskAssessment, requester, justification string) (*models.ApprovalRequest, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	now := w.now()
	req := (&models.ApprovalRequest{
		RequestID:     uuid.New().String(),
		Action:        *a,
		Risk:          *ra,
		RequestedBy:   requester,
		Justification: justification,
		RequestedAt:   now,
		TimeoutAt:     now,
		RequiredRole:  ra.RequiredApproverLevel,
		Conditions:    ra.RecommendedConditions,
		Status:        models.ApprovalApproved,
		AutoApproved:  true,
		DecidedBy:     models.SystemApprover,
		DecidedAt:     now,
		Reason:        ReasonAutoApprove,
	}).Clone()
	// 先审计后落库：未入审计链的批准不会出现在存储里。
	if err := w.audit(ctx, req, models.EventApprovalDecided, models.ActorSystem, models.SystemApprover); err != nil {
		return nil, err
	}
	rec := req.Record(w.cfg.GrantValidity)
	if err := w.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("approval: persist %s: %w", req.RequestID, err)
	}
	w.mu.Lock()
	w.grants[a.ActionID] = rec
	w.mu.Unlock()
	w.log.Debug("action auto-approved", "request_id", req.RequestID, "action_id", a.ActionID, "risk_level", ra.RiskLevel.String())
	return req.Clone(), nil
}

// ProcessApproval 对挂起请求做出批准或拒绝决策。
// 未知请求返回 (cancelled, ErrNotFound)；已终态返回 (当前状态, ErrAlreadyProcessed)；
// 已过截止时间则转为 timeout 并返回 (cancelled, ErrExpired)；角色不足返回 (pending, ErrInsufficientRole)。
func (w *Workflow) ProcessApproval(ctx context.Context, requestID string, approved bool, approverID, reason string, acceptedConditions []string) (models.ApprovalStatus, error) {
	e := w.lookup(requestID)
	if e == nil {
		rec, err := w.store.Get(ctx, requestID)
		if err != nil {
			return models.ApprovalCancelled, err
		}
		if rec != nil && rec.Status.IsTerminal() {
			return rec.Status, ErrAlreadyProcessed
		}
		return models.ApprovalCancelled, ErrNotFound
	}

	e.mu.Lock()
	if e.req.Status.IsTerminal() {
		st := e.req.Status
		e.mu.Unlock()
		return st, ErrAlreadyProcessed
	}
	if e.req.Expired(w.now()) {
		err := w.finishLocked(ctx, e, models.ApprovalTimeout, models.SystemApprover, ReasonTimeout, nil)
		snap := e.req.Clone()
		e.mu.Unlock()
		w.dispatch(ctx, snap, notify.TypeTimeout)
		if err != nil {
			return models.ApprovalCancelled, errors.Join(ErrExpired, err)
		}
		return models.ApprovalCancelled, ErrExpired
	}
	if w.dir != nil {
		role, ok := w.dir.RoleOf(ctx, approverID)
		if !ok || !role.Satisfies(e.req.RequiredRole) {
			required := e.req.RequiredRole
			e.mu.Unlock()
			w.log.Warn("approver role insufficient", "request_id", requestID, "approver", approverID, "role", role.String(), "required", required.String())
			return models.ApprovalPending, fmt.Errorf("%w: %s has %s, %s required", ErrInsufficientRole, approverID, role, required)
		}
	}
	status := models.ApprovalDenied
	if approved {
		status = models.ApprovalApproved
	}
	err := w.finishLocked(ctx, e, status, approverID, reason, acceptedConditions)
	snap := e.req.Clone()
	e.mu.Unlock()

	w.log.Info("approval decided", "request_id", requestID, "status", status.String(), "approver", approverID)
	w.dispatch(ctx, snap, notify.TypeApprovalResult)
	return status, err
}

// CancelRequest 将挂起请求转为 cancelled；已终态返回 false。
func (w *Workflow) CancelRequest(ctx context.Context, requestID, cancelledBy, reason string) (bool, error) {
	e := w.lookup(requestID)
	if e == nil {
		rec, err := w.store.Get(ctx, requestID)
		if err != nil {
			return false, err
		}
		if rec != nil && rec.Status.IsTerminal() {
			return false, nil
		}
		return false, ErrNotFound
	}
	e.mu.Lock()
	if e.req.Status.IsTerminal() {
		e.mu.Unlock()
		return false, nil
	}
	err := w.finishLocked(ctx, e, models.ApprovalCancelled, cancelledBy, reason, nil)
	snap := e.req.Clone()
	e.mu.Unlock()

	w.log.Info("approval cancelled", "request_id", requestID, "by", cancelledBy)
	w.dispatch(ctx, snap, notify.TypeApprovalResult)
	return true, err
}

// CheckActionApproval 返回 action_id 仍在有效期内的批准记录；无则 nil。先查内存授权，再查存储。
func (w *Workflow) CheckActionApproval(ctx context.Context, actionID string) *models.ApprovalRecord {
	now := w.now()
	w.mu.Lock()
	if g, ok := w.grants[actionID]; ok {
		if g.Grants(now) {
			w.mu.Unlock()
			return cloneRecord(g)
		}
		delete(w.grants, actionID)
	}
	w.mu.Unlock()

	recs, err := w.store.ByAction(ctx, actionID)
	if err != nil {
		w.log.Warn("approval store lookup failed", "action_id", actionID, "error", err)
		return nil
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Grants(now) {
			w.mu.Lock()
			w.grants[actionID] = recs[i]
			w.mu.Unlock()
			return cloneRecord(recs[i])
		}
	}
	return nil
}

// Wait 阻塞直到请求进入终态、ctx 结束或截止时间到达（到达即强制 timeout）。
// 主要由 done 通道唤醒，PollInterval 轮询兜底。返回的 error 为终态转移时的持久化或审计失败。
func (w *Workflow) Wait(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	e := w.lookup(requestID)
	if e == nil {
		rec, err := w.store.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if rec == nil || !rec.Status.IsTerminal() {
			return nil, ErrNotFound
		}
		return requestFromRecord(rec), nil
	}
	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	for {
		e.mu.Lock()
		if e.req.Status.IsTerminal() {
			c, err := e.req.Clone(), e.err
			e.mu.Unlock()
			return c, err
		}
		if e.req.Expired(w.now()) {
			err := w.finishLocked(ctx, e, models.ApprovalTimeout, models.SystemApprover, ReasonTimeout, nil)
			snap := e.req.Clone()
			e.mu.Unlock()
			w.dispatch(ctx, snap, notify.TypeTimeout)
			return snap, err
		}
		remaining := e.req.TimeoutAt.Sub(w.now())
		e.mu.Unlock()

		deadline := time.NewTimer(remaining)
		select {
		case <-e.done:
		case <-deadline.C:
		case <-poll.C:
		case <-ctx.Done():
			deadline.Stop()
			e.mu.Lock()
			c := e.req.Clone()
			e.mu.Unlock()
			return c, ctx.Err()
		}
		deadline.Stop()
	}
}

// Get 返回请求快照；内存中没有时回退到存储记录。
func (w *Workflow) Get(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	if e := w.lookup(requestID); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.req.Clone(), nil
	}
	rec, err := w.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return requestFromRecord(rec), nil
}

// Pending 返回所有挂起请求，按创建时间升序。
func (w *Workflow) Pending() []*models.ApprovalRequest {
	w.mu.Lock()
	es := make([]*entry, 0, len(w.pending))
	for _, id := range w.pending {
		if e, ok := w.entries[id]; ok {
			es = append(es, e)
		}
	}
	w.mu.Unlock()

	out := make([]*models.ApprovalRequest, 0, len(es))
	for _, e := range es {
		e.mu.Lock()
		if e.req.Status == models.ApprovalPending {
			out = append(out, e.req.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

// Close 停止所有计时器并拒绝新请求；挂起请求在存储中保持 pending。
func (w *Workflow) Close() {
	w.mu.Lock()
	w.closed = true
	es := make([]*entry, 0, len(w.entries))
	for _, e := range w.entries {
		es = append(es, e)
	}
	w.mu.Unlock()
	for _, e := range es {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
		}
		e.mu.Unlock()
	}
}

func (w *Workflow) lookup(id string) *entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries[id]
}

// expire 计时器回调。
func (w *Workflow) expire(id string) {
	e := w.lookup(id)
	if e == nil {
		return
	}
	ctx := context.Background()
	e.mu.Lock()
	if e.req.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	err := w.finishLocked(ctx, e, models.ApprovalTimeout, models.SystemApprover, ReasonTimeout, nil)
	snap := e.req.Clone()
	e.mu.Unlock()
	if err != nil {
		w.log.Error("approval timeout not recorded", "request_id", id, "error", err)
	}
	w.log.Info("approval timed out", "request_id", id, "action_id", snap.Action.ActionID)
	w.dispatch(ctx, snap, notify.TypeTimeout)
}

// finishLocked 执行唯一一次终态转移：停计时器、唤醒等待者、解除挂起映射、审计、持久化；
// 两者都成功时批准才缓存为授权，并把 entry 移出内存。
// 调用时持有 e.mu 且 e.req 为 pending。
func (w *Workflow) finishLocked(ctx context.Context, e *entry, status models.ApprovalStatus, by, reason string, accepted []string) error {
	r := e.req
	r.Status = status
	r.DecidedBy = by
	r.DecidedAt = w.now()
	r.Reason = reason
	r.AcceptedConditions = append([]string(nil), accepted...)
	if e.timer != nil {
		e.timer.Stop()
	}
	close(e.done)

	w.mu.Lock()
	if w.pending[r.Action.ActionID] == r.RequestID {
		delete(w.pending, r.Action.ActionID)
	}
	w.mu.Unlock()

	typ, actor := models.EventApprovalDecided, models.ActorHuman
	switch status {
	case models.ApprovalTimeout:
		typ, actor = models.EventApprovalTimeout, models.ActorSystem
	case models.ApprovalCancelled:
		typ = models.EventApprovalCancelled
		if by == models.SystemApprover {
			actor = models.ActorSystem
		}
	}
	var errs error
	rec := r.Record(w.cfg.GrantValidity)
	if err := w.audit(ctx, r, typ, actor, by); err != nil {
		errs = err
		// 决策未入审计链：落库的记录不可作为授权
		rec.ValidUntil = time.Time{}
	}
	if err := w.store.Put(ctx, rec); err != nil {
		errs = errors.Join(errs, fmt.Errorf("approval: persist %s: %w", r.RequestID, err))
	}
	e.err = errs
	if errs != nil {
		return errs
	}
	w.mu.Lock()
	if status == models.ApprovalApproved {
		w.grants[r.Action.ActionID] = rec
	}
	// 已落库的终态请求移出内存，后续查询走存储
	delete(w.entries, r.RequestID)
	w.mu.Unlock()
	return nil
}

func (w *Workflow) dispatch(ctx context.Context, snap *models.ApprovalRequest, t notify.Type) map[string]bool {
	if w.notifier == nil || snap == nil {
		return nil
	}
	out := w.notifier.Dispatch(ctx, snap, t)
	failed := 0
	for _, ok := range out {
		if !ok {
			failed++
		}
	}
	if failed > 0 {
		w.log.Warn("notification partially failed", "request_id", snap.RequestID, "type", string(t), "failed", failed, "channels", len(out))
	}
	return out
}

func (w *Workflow) audit(ctx context.Context, r *models.ApprovalRequest, typ models.AuditEventType, actor models.ActorType, actorID string) error {
	if w.recorder == nil {
		return nil
	}
	details := map[string]any{
		"request_id":    r.RequestID,
		"action":        r.Action.AuditSnapshot(),
		"risk_level":    r.Risk.RiskLevel.String(),
		"risk_score":    r.Risk.RiskScore,
		"risk_factors":  r.Risk.RiskFactors,
		"required_role": r.RequiredRole.String(),
		"conditions":    r.Conditions,
		"status":        r.Status.String(),
		"requested_by":  r.RequestedBy,
		"requested_at":  r.RequestedAt.UTC().Format(time.RFC3339Nano),
		"timeout_at":    r.TimeoutAt.UTC().Format(time.RFC3339Nano),
		"auto_approved": r.AutoApproved,
		"justification": r.Justification,
	}
	if r.Status.IsTerminal() {
		details["decided_by"] = r.DecidedBy
		details["decided_at"] = r.DecidedAt.UTC().Format(time.RFC3339Nano)
		details["reason"] = r.Reason
		details["accepted_conditions"] = r.AcceptedConditions
	}
	sev := models.SeverityInfo
	switch r.Status {
	case models.ApprovalDenied, models.ApprovalTimeout:
		sev = models.SeverityWarning
	case models.ApprovalPending:
		if r.Risk.RiskLevel == models.RiskCritical {
			sev = models.SeverityHigh
		}
	}
	session := r.Action.SessionID
	if session == "" {
		session = w.cfg.SessionID
	}
	ev := &models.AuditEvent{
		EventType:     typ,
		SessionID:     session,
		Details:       details,
		ActorType:     actor,
		ActorID:       actorID,
		CorrelationID: r.Action.ActionID,
		Severity:      sev,
		Tags:          []string{"approval", r.Status.String()},
	}
	if err := w.recorder.Record(ctx, ev); err != nil {
		return fmt.Errorf("approval: audit %s of %s: %w", typ, r.RequestID, err)
	}
	return nil
}

func requestFromRecord(rec *models.ApprovalRecord) *models.ApprovalRequest {
	r := &models.ApprovalRequest{
		RequestID:          rec.RequestID,
		Action:             rec.Action,
		Risk:               rec.Risk,
		RequestedBy:        rec.RequestedBy,
		RequestedAt:        rec.RequestedAt,
		TimeoutAt:          rec.TimeoutAt,
		RequiredRole:       rec.RequiredRole,
		Conditions:         rec.Conditions,
		Status:             rec.Status,
		DecidedBy:          rec.DecidedBy,
		DecidedAt:          rec.DecidedAt,
		Reason:             rec.DenialReason,
		AcceptedConditions: rec.AcceptedConditions,
	}
	if rec.Reason != "" {
		r.Reason = rec.Reason
	}
	if r.DecidedBy == "" && r.Status == models.ApprovalApproved {
		r.DecidedBy, r.DecidedAt = rec.ApprovedBy, rec.ApprovedAt
	}
	r.AutoApproved = r.DecidedBy == models.SystemApprover && r.Status == models.ApprovalApproved
	return r.Clone()
}
