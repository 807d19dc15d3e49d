package feishu

import (
	"context"
	"log/slog"
	"time"

	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher/callback"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"xiezhi/internal/config"
)

// CardHandler 处理卡片点击；operatorID 为点击人的 open_id（可能为空）。
type CardHandler func(ctx context.Context, requestID string, approved bool, operatorID string) error

// RunLongConnection 在后台建立飞书长连接，接收卡片交互（action.value.request_id + action），交给 onCard。
// 需在飞书开放平台选择「使用长连接接收事件」。断线 5s 后重连，ctx 取消时退出。
func RunLongConnection(ctx context.Context, cfg config.FeishuConfig, onCard CardHandler, lg *slog.Logger) {
	if !cfg.Enabled || cfg.AppID == "" || cfg.AppSecret == "" {
		return
	}
	if lg == nil {
		lg = slog.Default()
	}
	go runWSLoop(ctx, cfg, onCard, lg)
}

func runWSLoop(ctx context.Context, cfg config.FeishuConfig, onCard CardHandler, lg *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		eventHandler := dispatcher.NewEventDispatcher("", "").
			OnP2CardActionTrigger(func(ctx context.Context, event *callback.CardActionTriggerEvent) (*callback.CardActionTriggerResponse, error) {
				return handleCardEvent(ctx, event, onCard, lg), nil
			})
		client := larkws.NewClient(cfg.AppID, cfg.AppSecret, larkws.WithEventHandler(eventHandler))
		lg.Info("feishu long connection starting")
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := client.Start(ctx); err != nil {
				lg.Warn("feishu long connection error", "error", err)
			}
		}()
		select {
		case <-ctx.Done():
			return
		case <-done:
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// handleCardEvent 取出点击人 open_id 与按钮 value。
func handleCardEvent(ctx context.Context, event *callback.CardActionTriggerEvent, onCard CardHandler, lg *slog.Logger) *callback.CardActionTriggerResponse {
	if event == nil || event.Event == nil || event.Event.Action == nil {
		return &callback.CardActionTriggerResponse{}
	}
	operator := ""
	if op := event.Event.Operator; op != nil {
		operator = op.OpenID
	}
	return handleCardAction(ctx, event.Event.Action.Value, operator, onCard, lg)
}

// handleCardAction 解析按钮 value；非审批卡片或字段缺失时忽略。
func handleCardAction(ctx context.Context, value map[string]interface{}, operatorID string, onCard CardHandler, lg *slog.Logger) *callback.CardActionTriggerResponse {
	if value == nil {
		return &callback.CardActionTriggerResponse{}
	}
	requestID, _ := value["request_id"].(string)
	action, _ := value["action"].(string)
	if requestID == "" || (action != ActionApprove && action != ActionReject) {
		return &callback.CardActionTriggerResponse{}
	}
	approved := action == ActionApprove
	if err := onCard(ctx, requestID, approved, operatorID); err != nil {
		lg.Warn("feishu card decision rejected", "request_id", requestID, "approved", approved, "operator", operatorID, "error", err)
		return &callback.CardActionTriggerResponse{}
	}
	lg.Info("feishu card decision", "request_id", requestID, "approved", approved, "operator", operatorID)
	return &callback.CardActionTriggerResponse{}
}
