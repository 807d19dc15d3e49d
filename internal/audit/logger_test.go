package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiezhi/internal/models"
)

// flakyStore 在 fail 为 true 时拒绝写入。
type flakyStore struct {
	*MemoryStore
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *flakyStore) Append(ctx context.Context, e *models.AuditEvent) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Append(ctx, e)
}

func event(session string, typ models.AuditEventType) *models.AuditEvent {
	return &models.AuditEvent{
		EventType: typ,
		SessionID: session,
		ActorType: models.ActorAgent,
		ActorID:   "planner",
		Details:   map[string]any{"ports": []int{80, 443}, "valid": true, "count": 3},
	}
}

func TestLogger_ChainsPerSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	lg := NewLogger(store)

	for i := 0; i < 3; i++ {
		require.NoError(t, lg.Record(ctx, event("s-1", models.EventScopeValidation)))
		require.NoError(t, lg.Record(ctx, event("s-2", models.EventApprovalRequested)))
	}

	for _, s := range []string{"s-1", "s-2"} {
		events, err := store.QueryBySession(ctx, s)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, GenesisHash, events[0].PreviousHash)
		assert.Equal(t, events[0].IntegrityHash, events[1].PreviousHash)
		assert.NoError(t, Verify(events))
	}
}

func TestLogger_FillsFields(t *testing.T) {
	lg := NewLogger(NewMemoryStore(), WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CST", 8*3600))
	}))
	e := event("s", models.EventScopeValidation)
	require.NoError(t, lg.Record(context.Background(), e))
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, models.SeverityInfo, e.Severity)
	assert.Len(t, e.IntegrityHash, 64)
}

func TestVerify_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	lg := NewLogger(store)
	for i := 0; i < 4; i++ {
		require.NoError(t, lg.Record(ctx, event("s", models.EventScopeValidation)))
	}
	events, _ := store.QueryBySession(ctx, "s")

	events[2].Details = map[string]any{"valid": false}
	err := Verify(events)
	var ce *ChainError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Index)

	events, _ = store.QueryBySession(ctx, "s")
	events = append(events[:1], events[2:]...)
	require.ErrorAs(t, Verify(events), &ce)
	assert.Equal(t, 1, ce.Index)
}

func TestLogger_HaltsOnWriteFailureUntilResume(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	lg := NewLogger(store)

	require.NoError(t, lg.Record(ctx, event("s", models.EventScopeValidation)))

	store.setFail(true)
	err := lg.Record(ctx, event("s", models.EventScopeValidation))
	require.ErrorIs(t, err, ErrWriteFailure)
	assert.True(t, lg.Halted())

	store.setFail(false)
	err = lg.Record(ctx, event("s", models.EventScopeValidation))
	require.ErrorIs(t, err, ErrHalted, "writes stay refused until Resume")

	store.setFail(true)
	require.Error(t, lg.Resume(ctx, "s"))
	assert.True(t, lg.Halted())

	store.setFail(false)
	require.NoError(t, lg.Resume(ctx, "s"))
	assert.False(t, lg.Halted())
	require.NoError(t, lg.Record(ctx, event("s", models.EventScopeValidation)))

	events, _ := store.QueryBySession(ctx, "s")
	require.Len(t, events, 3)
	assert.Equal(t, models.EventAuditResumed, events[1].EventType)
	assert.NoError(t, Verify(events))
}

func TestLogger_ResumesChainFromJSONL(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	s1, err := NewJSONLStore(path)
	require.NoError(t, err)
	require.NoError(t, NewLogger(s1).Record(ctx, event("s", models.EventScopeValidation)))
	require.NoError(t, s1.Close())

	s2, err := NewJSONLStore(path)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, NewLogger(s2).Record(ctx, event("s", models.EventApprovalDecided)))

	events, err := s2.QueryBySession(ctx, "s")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NoError(t, Verify(events), "hash must survive the JSON round trip and chain across restarts")
}

func TestLogger_ConcurrentAppendsStayLinked(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	lg := NewLogger(store)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, lg.Record(ctx, event("s", models.EventScopeValidation)))
		}()
	}
	wg.Wait()
	events, _ := store.QueryBySession(ctx, "s")
	require.Len(t, events, 50)
	assert.NoError(t, Verify(events))
}
