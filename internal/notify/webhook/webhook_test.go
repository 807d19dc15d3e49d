package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiezhi/internal/config"
	"xiezhi/internal/models"
	"xiezhi/internal/notify"
)

func testMessage() *notify.Message {
	return notify.Compose(&models.ApprovalRequest{
		RequestID: "req-9",
		Action:    models.SecurityAction{ActionID: "a9", ActionType: "brute_force", TargetIP: "10.0.0.7", Phase: models.PhaseExploitation},
		Risk:      models.RiskAssessment{RiskLevel: models.RiskMedium, RiskScore: 0.45},
		Status:    models.ApprovalDenied,
		DecidedBy: "lee",
		Reason:    "outside agreed window",
	}, notify.TypeApprovalResult)
}

func TestSend_SignedPayload(t *testing.T) {
	var (
		got     Payload
		headers http.Header
		raw     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		raw, _ = io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(config.WebhookConfig{Enabled: true, URL: srv.URL, Secret: "k", Headers: map[string]string{"X-Team": "red"}})
	c.now = func() time.Time { return time.Unix(1772618400, 0) }
	require.NoError(t, c.Send(context.Background(), testMessage()))

	assert.Equal(t, "approval_result", got.Type)
	assert.Equal(t, "req-9", got.RequestID)
	assert.Equal(t, "denied", got.Status)
	assert.Equal(t, "medium", got.RiskLevel)
	assert.False(t, got.Actionable)
	assert.Contains(t, got.Text, "outside agreed window")
	assert.Equal(t, "red", headers.Get("X-Team"))
	assert.Equal(t, "1772618400", headers.Get(HeaderTimestamp))
	assert.Equal(t, "sha256="+Sign("k", "1772618400", raw), headers.Get(HeaderSignature))
}

func TestSend_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(config.WebhookConfig{Enabled: true, URL: srv.URL}).Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "boom")
}

func TestSend_Disabled(t *testing.T) {
	assert.Error(t, New(config.WebhookConfig{URL: "http://127.0.0.1:1"}).Send(context.Background(), testMessage()))
}
