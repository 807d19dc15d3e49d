package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher/callback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiezhi/internal/config"
	"xiezhi/internal/models"
	"xiezhi/internal/notify"
)

type sent struct {
	idType, id, msgType, content string
}

func newTestChannel(cfg config.FeishuConfig, fail func(n int, id string) error) (*Channel, *[]sent) {
	var calls []sent
	c := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.sleep = func(context.Context, time.Duration) error { return nil }
	c.send = func(ctx context.Context, idType, id, msgType, content string) error {
		calls = append(calls, sent{idType, id, msgType, content})
		if fail != nil {
			return fail(len(calls), id)
		}
		return nil
	}
	return c, &calls
}

var enabled = config.FeishuConfig{Enabled: true, AppID: "cli_x", AppSecret: "s", ChatID: "oc_group"}

func pendingMessage() *notify.Message {
	req := &models.ApprovalRequest{
		RequestID: "req-1",
		Action:    models.SecurityAction{ActionID: "a1", ActionType: "exploit", Target: "db01.corp.local", Phase: models.PhaseExploitation},
		Risk:      models.RiskAssessment{RiskLevel: models.RiskHigh, RiskScore: 0.72},
		Status:    models.ApprovalPending,
	}
	return notify.Compose(req, notify.TypeApprovalRequest)
}

func TestSend_RoutesByReceiveIDType(t *testing.T) {
	c, calls := newTestChannel(enabled, nil)
	msg := pendingMessage()
	msg.Recipients = []string{"ou_lee", "ops@example.com", "u123"}
	require.NoError(t, c.Send(context.Background(), msg))
	require.Len(t, *calls, 3)
	assert.Equal(t, "open_id", (*calls)[0].idType)
	assert.Equal(t, "email", (*calls)[1].idType)
	assert.Equal(t, "user_id", (*calls)[2].idType)
	assert.Equal(t, "text", (*calls)[0].msgType)

	var content map[string]string
	require.NoError(t, json.Unmarshal([]byte((*calls)[0].content), &content))
	assert.Contains(t, content["text"], "req-1")
}

func TestSend_FallsBackToChat(t *testing.T) {
	c, calls := newTestChannel(enabled, nil)
	require.NoError(t, c.Send(context.Background(), pendingMessage()))
	require.Len(t, *calls, 1)
	assert.Equal(t, "chat_id", (*calls)[0].idType)
	assert.Equal(t, "oc_group", (*calls)[0].id)

	noChat := enabled
	noChat.ChatID = ""
	c, _ = newTestChannel(noChat, nil)
	assert.Error(t, c.Send(context.Background(), pendingMessage()))
}

func TestSend_CardHasDecisionButtons(t *testing.T) {
	cfg := enabled
	cfg.UseCardDelivery = true
	c, calls := newTestChannel(cfg, nil)
	require.NoError(t, c.Send(context.Background(), pendingMessage()))
	require.Len(t, *calls, 1)
	assert.Equal(t, "interactive", (*calls)[0].msgType)

	var card struct {
		Header struct {
			Template string `json:"template"`
		} `json:"header"`
		Elements []struct {
			Tag     string `json:"tag"`
			Actions []struct {
				Value map[string]string `json:"value"`
			} `json:"actions"`
		} `json:"elements"`
	}
	require.NoError(t, json.Unmarshal([]byte((*calls)[0].content), &card))
	assert.Equal(t, "orange", card.Header.Template)
	require.Len(t, card.Elements, 2)
	require.Len(t, card.Elements[1].Actions, 2)
	assert.Equal(t, map[string]string{"request_id": "req-1", "action": "approve"}, card.Elements[1].Actions[0].Value)
	assert.Equal(t, "reject", card.Elements[1].Actions[1].Value["action"])
}

func TestSend_RetryAndCrossAppFallback(t *testing.T) {
	cfg := enabled
	cfg.RetryMaxAttempts = 3
	c, calls := newTestChannel(cfg, func(n int, id string) error {
		if n < 3 {
			return errors.New("feishu API code=99991400 msg=rate limited")
		}
		return nil
	})
	msg := pendingMessage()
	msg.Recipients = []string{"ou_lee"}
	require.NoError(t, c.Send(context.Background(), msg))
	assert.Len(t, *calls, 3)

	c, calls = newTestChannel(cfg, func(n int, id string) error {
		if id == "ou_other" {
			return errors.New("feishu API code=99992361 msg=open_id cross app")
		}
		return nil
	})
	msg.Recipients = []string{"ou_other"}
	require.NoError(t, c.Send(context.Background(), msg))
	require.Len(t, *calls, 2, "no retry on cross app, one fallback")
	assert.Equal(t, "oc_group", (*calls)[1].id)
}

func TestSend_Disabled(t *testing.T) {
	c, calls := newTestChannel(config.FeishuConfig{}, nil)
	assert.Error(t, c.Send(context.Background(), pendingMessage()))
	assert.Empty(t, *calls)
}

func TestHandleCardAction(t *testing.T) {
	type decision struct {
		id       string
		approved bool
		operator string
	}
	var got []decision
	handler := func(ctx context.Context, id string, approved bool, operator string) error {
		got = append(got, decision{id, approved, operator})
		if id == "bad" {
			return errors.New("already processed")
		}
		return nil
	}
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	handleCardAction(ctx, map[string]interface{}{"request_id": "r1", "action": "approve"}, "ou_lee", handler, lg)
	handleCardAction(ctx, map[string]interface{}{"request_id": "r2", "action": "reject"}, "", handler, lg)
	handleCardAction(ctx, map[string]interface{}{"request_id": "r3", "action": "maybe"}, "", handler, lg)
	handleCardAction(ctx, map[string]interface{}{"action": "approve"}, "", handler, lg)
	handleCardAction(ctx, nil, "", handler, lg)
	assert.NotNil(t, handleCardAction(ctx, map[string]interface{}{"request_id": "bad", "action": "approve"}, "", handler, lg))

	assert.Equal(t, []decision{{"r1", true, "ou_lee"}, {"r2", false, ""}, {"bad", true, ""}}, got)
}

func TestHandleCardEvent_PassesOperator(t *testing.T) {
	var ids, operators []string
	handler := func(ctx context.Context, id string, approved bool, operator string) error {
		ids = append(ids, id)
		operators = append(operators, operator)
		return nil
	}
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	value := map[string]interface{}{"request_id": "r1", "action": "approve"}

	resp := handleCardEvent(ctx, &callback.CardActionTriggerEvent{Event: &callback.CardActionTriggerRequest{
		Operator: &callback.Operator{OpenID: "ou_carol"},
		Action:   &callback.CallBackAction{Value: value},
	}}, handler, lg)
	assert.NotNil(t, resp)
	handleCardEvent(ctx, &callback.CardActionTriggerEvent{Event: &callback.CardActionTriggerRequest{
		Action: &callback.CallBackAction{Value: value},
	}}, handler, lg)
	handleCardEvent(ctx, &callback.CardActionTriggerEvent{Event: &callback.CardActionTriggerRequest{}}, handler, lg)
	handleCardEvent(ctx, nil, handler, lg)

	assert.Equal(t, []string{"r1", "r1"}, ids)
	assert.Equal(t, []string{"ou_carol", ""}, operators)
}
