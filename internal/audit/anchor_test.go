package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiezhi/internal/models"
	"xiezhi/pkg/chain"
)

func TestAnchor_AppendQueryAndProof(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	ledger := chain.NewLedger(chain.NewLocalStore())
	anchor := NewAnchor(inner, ledger, 2, 10*time.Millisecond, nil)
	anchor.Start()

	lg := NewLogger(anchor)
	e1 := event("s", models.EventScopeValidation)
	e2 := event("s", models.EventApprovalRequested)
	require.NoError(t, lg.Record(ctx, e1))
	require.NoError(t, lg.Record(ctx, e2))
	anchor.Stop()

	list, err := anchor.QueryBySession(ctx, "s")
	require.NoError(t, err)
	require.Len(t, list, 2)

	proof, err := anchor.Proof(ctx, e2.EventID)
	require.NoError(t, err)
	assert.Equal(t, e2.IntegrityHash, proof.LeafHash)
	assert.True(t, chain.VerifyProof(proof))
}
