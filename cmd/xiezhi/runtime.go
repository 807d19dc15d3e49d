package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"xiezhi/internal/approval"
	"xiezhi/internal/audit"
	"xiezhi/internal/config"
	"xiezhi/internal/gate"
	"xiezhi/internal/models"
	"xiezhi/internal/notify"
	"xiezhi/internal/notify/feishu"
	"xiezhi/internal/notify/webhook"
	"xiezhi/internal/ownership"
	"xiezhi/internal/patterns"
	"xiezhi/internal/risk"
	"xiezhi/internal/scope"
	"xiezhi/pkg/chain"
)

// runtime 按配置装配的全部组件；Close 逆序释放。
type runtime struct {
	cfg       *config.Config
	scope     *models.EngagementScope
	patterns  *patterns.Table
	audit     *audit.Logger
	anchor    *audit.Anchor
	engine    *scope.Engine
	evaluator *risk.Evaluator
	directory *ownership.StaticDirectory
	notifier  *notify.Manager
	workflow  *approval.Workflow
	gate      *gate.Gate
	log       *slog.Logger
	closers   []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func newRuntime(ctx context.Context, cfg *config.Config, lg *slog.Logger) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, log: lg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if rt.patterns, err = patterns.Load(cfg.PatternsPath); err != nil {
		return nil, fmt.Errorf("patterns: %w", err)
	}
	if rt.scope, err = config.LoadScope(cfg.ScopePath); err != nil {
		return nil, err
	}
	session := rt.scope.SessionID
	if session == "" {
		session = rt.scope.EngagementID
	}

	jsonl, err := audit.NewJSONLStore(cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = jsonl.Close() })
	var store audit.Store = jsonl
	if cfg.Audit.Anchor.Enabled {
		ledger := chain.NewLedger(chain.NewLocalStoreWithPath(cfg.Audit.Anchor.Dir))
		rt.anchor = audit.NewAnchor(jsonl, ledger, cfg.Audit.Anchor.BatchSize, seconds(cfg.Audit.Anchor.IntervalSeconds), lg)
		rt.anchor.Start()
		rt.closers = append(rt.closers, rt.anchor.Stop)
		store = rt.anchor
		fmt.Fprintf(os.Stderr, "[xiezhi] 审计存证已启用: %s\n", cfg.Audit.Anchor.Dir)
	}
	rt.audit = audit.NewLogger(store, audit.WithLogger(lg))

	var policy scope.NetworkPolicy = scope.AllowAll{}
	if !cfg.Network.AllowAll {
		if policy, err = scope.NewCIDRPolicy(cfg.Network.BlockedCIDRs, cfg.Network.BlockedPorts); err != nil {
			return nil, err
		}
	}
	resolver := scope.NewDNSResolver(scope.DNSConfig{
		Upstreams: cfg.Network.DNSServers,
		Timeout:   seconds(cfg.Network.DNSTimeoutSeconds),
		CacheTTL:  seconds(cfg.Network.CacheTTLSeconds),
	})
	rt.engine, err = scope.NewEngine(rt.scope,
		scope.WithPatterns(rt.patterns),
		scope.WithResolver(resolver),
		scope.WithNetworkPolicy(policy),
		scope.WithRecorder(rt.audit),
		scope.WithLogger(lg),
	)
	if err != nil {
		return nil, err
	}
	if rt.evaluator, err = risk.NewEvaluator(cfg.Risk, risk.WithPatterns(rt.patterns)); err != nil {
		return nil, err
	}

	rt.directory = ownership.NewStaticDirectory(cfg.Approvers, cfg.ApproverDefaults)
	var channels []notify.Channel
	if cfg.Notify.Log {
		channels = append(channels, notify.NewLogChannel(lg))
	}
	if cfg.Notify.Feishu.Enabled {
		channels = append(channels, feishu.New(cfg.Notify.Feishu, lg))
		fmt.Fprintf(os.Stderr, "[xiezhi] 飞书投递已启用，审批人将收到待审批消息\n")
	}
	if cfg.Notify.Webhook.Enabled {
		channels = append(channels, webhook.New(cfg.Notify.Webhook))
	}
	rt.notifier = notify.NewManager(rt.directory, channels,
		notify.WithTimeout(seconds(cfg.Notify.TimeoutSeconds)),
		notify.WithLogger(lg),
	)

	approvals, err := openApprovalStore(ctx, cfg.Approval.Store)
	if err != nil {
		return nil, err
	}
	if c, ok := approvals.(interface{ Close() }); ok {
		rt.closers = append(rt.closers, c.Close)
	}
	opts := []approval.Option{
		approval.WithStore(approvals),
		approval.WithNotifier(rt.notifier),
		approval.WithRecorder(rt.audit),
		approval.WithRules(ownership.NewRuleMatcher(cfg.ApprovalRules)),
		approval.WithLogger(lg),
	}
	if cfg.Approval.EnforceApproverRoles {
		opts = append(opts, approval.WithDirectory(rt.directory))
	}
	rt.workflow, err = approval.NewWorkflow(rt.evaluator, approval.Config{
		AutoApproveMax: cfg.Approval.AutoApproveMax,
		TimeoutUnit:    seconds(cfg.Approval.TimeoutUnitSeconds),
		GrantValidity:  time.Duration(cfg.Approval.GrantValidityMinutes) * time.Minute,
		PollInterval:   seconds(cfg.Approval.PollIntervalSeconds),
		SessionID:      session,
	}, opts...)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.workflow.Close)

	rt.gate = gate.New(rt.engine, rt.workflow,
		gate.WithRecorder(rt.audit),
		gate.WithSessionID(session),
		gate.WithLogger(lg),
	)
	return rt, nil
}

func openApprovalStore(ctx context.Context, sc config.StoreConfig) (approval.Store, error) {
	switch sc.Driver {
	case "json":
		return approval.NewJSONStore(sc.Path)
	case "postgres":
		return approval.OpenPostgres(ctx, sc.DSN)
	default:
		return approval.NewMemoryStore(), nil
	}
}

// startFeishuListener 长连接接收卡片点击并转为审批决策。
func (rt *runtime) startFeishuListener(ctx context.Context) {
	fc := rt.cfg.Notify.Feishu
	if !fc.Enabled || !fc.UseLongConnection {
		return
	}
	feishu.RunLongConnection(ctx, fc, func(ctx context.Context, requestID string, approved bool, operatorID string) error {
		st, err := rt.workflow.ProcessApproval(ctx, requestID, approved, operatorID, "decided via feishu card", nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "[xiezhi] 飞书卡片决策: %s -> %s (%s)\n", requestID, st, operatorID)
		return nil
	}, rt.log)
	fmt.Fprintf(os.Stderr, "[xiezhi] 飞书长连接已启动，卡片点击将直接完成审批\n")
}
