// Package scope 实现三层顺序短路的授权边界校验：结构层、确定性层与网络层。
package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"xiezhi/internal/audit"
	"xiezhi/internal/models"
	"xiezhi/internal/patterns"
)

// Validator 校验一次动作是否落在授权边界内。
type Validator interface {
	Validate(ctx context.Context, a *models.SecurityAction) (*models.ValidationResult, error)
}

// Engine 针对单个 EngagementScope 的校验引擎；构造后只读，可并发使用。
type Engine struct {
	scope    *compiledScope
	patterns *patterns.Table
	resolver Resolver
	policy   NetworkPolicy
	recorder audit.Recorder
	validate *validator.Validate
	now      func() time.Time
	log      *slog.Logger
}

// Option 配置 Engine。
type Option func(*Engine)

func WithPatterns(t *patterns.Table) Option { return func(e *Engine) { e.patterns = t } }
func WithResolver(r Resolver) Option { return func(e *Engine) { e.resolver = r } }
func WithNetworkPolicy(p NetworkPolicy) Option { return func(e *Engine) { e.policy = p } }
func WithRecorder(r audit.Recorder) Option { return func(e *Engine) { e.recorder = r } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// NewEngine 编译 scope；CIDR、域名、端口或时间窗非法时返回错误。
func NewEngine(s *models.EngagementScope, opts ...Option) (*Engine, error) {
	cs, err := compileScope(s)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		scope: cs,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.patterns == nil {
		e.patterns = patterns.MustDefault()
	}
	if e.resolver == nil {
		e.resolver = NewDNSResolver(DNSConfig{})
	}
	if e.policy == nil {
		p, err := NewCIDRPolicy(nil, nil)
		if err != nil {
			return nil, err
		}
		e.policy = p
	}
	e.validate = newActionValidator()
	return e, nil
}

func newActionValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Scope 返回引擎绑定的授权边界。
func (e *Engine) Scope() *models.EngagementScope { return e.scope.src }

// Validate 依次运行三层并在第一处失败短路。每次调用恰好产生一条 scope_validation 审计事件。
// 返回错误仅限畸形动作（*MalformedActionError）与审计写入失败；越界是结论而非错误。
func (e *Engine) Validate(ctx context.Context, a *models.SecurityAction) (*models.ValidationResult, error) {
	started := e.now()
	if merr := e.checkWellFormed(a); merr != nil {
		e.log.Warn("malformed action rejected", "action_id", merr.ActionID, "error", merr)
		if err := e.recordMalformed(ctx, a, merr); err != nil {
			return nil, err
		}
		return nil, merr
	}

	res := &models.ValidationResult{ActionID: a.ActionID, Valid: true}
	layers := []struct {
		name models.LayerName
		run  func(*models.LayerResult)
		skip bool
	}{
		{models.LayerStructural, func(lr *models.LayerResult) { e.structural(a, started, lr) }, false},
		{models.LayerDeterministic, func(lr *models.LayerResult) { e.deterministic(a, lr) }, false},
		{models.LayerNetwork, func(lr *models.LayerResult) { e.network(ctx, a, lr) }, !a.RequiresNetwork},
	}
	for _, l := range layers {
		lr := models.LayerResult{Layer: l.name}
		if l.skip {
			lr.Valid, lr.Skipped = true, true
			res.Layers = append(res.Layers, lr)
			continue
		}
		t0 := time.Now()
		l.run(&lr)
		lr.Duration = time.Since(t0)
		lr.Valid = len(lr.Violations) == 0
		res.Layers = append(res.Layers, lr)
		if !lr.Valid {
			res.Valid = false
			res.BlockedAt = l.name
			break
		}
	}
	res.ValidatedAt = e.now()
	res.TotalDuration = res.ValidatedAt.Sub(started)

	if res.Valid {
		e.log.Debug("action within scope", "action_id", a.ActionID, "warnings", len(res.Warnings()))
	} else {
		e.log.Info("action out of scope", "action_id", a.ActionID, "blocked_at", res.BlockedAt, "violations", res.Violations())
	}
	if err := e.recordResult(ctx, a, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) checkWellFormed(a *models.SecurityAction) *MalformedActionError {
	if a == nil {
		return &MalformedActionError{Fields: []FieldError{{Field: "action", Rule: "required"}}}
	}
	merr := &MalformedActionError{ActionID: a.ActionID}
	if err := e.validate.Struct(a); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			merr.Fields = append(merr.Fields, FieldError{Field: "action", Rule: err.Error()})
		}
		for _, fe := range ves {
			merr.Fields = append(merr.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
		}
	}
	if a.Phase != models.PhaseUnknown && !a.Phase.Valid() {
		merr.Fields = append(merr.Fields, FieldError{Field: "phase", Rule: "oneof", Param: fmt.Sprint(int(a.Phase))})
	}
	if a.RiskLevel != models.RiskUnset && a.RiskLevel.Rank() == 0 {
		merr.Fields = append(merr.Fields, FieldError{Field: "risk_level", Rule: "oneof", Param: fmt.Sprint(int(a.RiskLevel))})
	}
	if len(merr.Fields) == 0 {
		return nil
	}
	return merr
}

func (e *Engine) sessionOf(a *models.SecurityAction) string {
	if a != nil && a.SessionID != "" {
		return a.SessionID
	}
	if e.scope.src.SessionID != "" {
		return e.scope.src.SessionID
	}
	return e.scope.src.EngagementID
}

func actorOf(a *models.SecurityAction) string {
	if a != nil && a.CreatedBy != "" {
		return a.CreatedBy
	}
	return "planner"
}

func (e *Engine) recordResult(ctx context.Context, a *models.SecurityAction, res *models.ValidationResult) error {
	if e.recorder == nil {
		return nil
	}
	layers := make([]map[string]any, len(res.Layers))
	for i, l := range res.Layers {
		layers[i] = map[string]any{
			"layer":       string(l.Layer),
			"valid":       l.Valid,
			"skipped":     l.Skipped,
			"violations":  l.Violations,
			"warnings":    l.Warnings,
			"duration_us": l.Duration.Microseconds(),
		}
	}
	sev := models.SeverityInfo
	tags := []string{"scope"}
	switch {
	case res.BlockedAt == models.LayerDeterministic:
		sev = models.SeverityCritical
		tags = append(tags, "blocked", string(res.BlockedAt))
	case !res.Valid:
		sev = models.SeverityHigh
		tags = append(tags, "blocked", string(res.BlockedAt))
	case len(res.Warnings()) > 0:
		sev = models.SeverityWarning
	}
	ev := &models.AuditEvent{
		EventType: models.EventScopeValidation,
		SessionID: e.sessionOf(a),
		Details: map[string]any{
			"engagement_id":     e.scope.src.EngagementID,
			"action":            a.AuditSnapshot(),
			"valid":             res.Valid,
			"blocked_at":        string(res.BlockedAt),
			"layers":            layers,
			"total_duration_us": res.TotalDuration.Microseconds(),
		},
		ActorType:     models.ActorAgent,
		ActorID:       actorOf(a),
		CorrelationID: a.ActionID,
		Severity:      sev,
		Tags:          tags,
	}
	if err := e.recorder.Record(ctx, ev); err != nil {
		return fmt.Errorf("scope: audit validation of %s: %w", a.ActionID, err)
	}
	return nil
}

func (e *Engine) recordMalformed(ctx context.Context, a *models.SecurityAction, merr *MalformedActionError) error {
	if e.recorder == nil {
		return nil
	}
	fields := make([]string, len(merr.Fields))
	for i, f := range merr.Fields {
		fields[i] = f.String()
	}
	ev := &models.AuditEvent{
		EventType: models.EventScopeValidation,
		SessionID: e.sessionOf(a),
		Details: map[string]any{
			"engagement_id": e.scope.src.EngagementID,
			"action_id":     merr.ActionID,
			"valid":         false,
			"malformed":     fields,
		},
		ActorType:     models.ActorAgent,
		ActorID:       actorOf(a),
		CorrelationID: merr.ActionID,
		Severity:      models.SeverityHigh,
		Tags:          []string{"scope", "malformed"},
	}
	if err := e.recorder.Record(ctx, ev); err != nil {
		return fmt.Errorf("scope: audit malformed action: %w", err)
	}
	return nil
}
