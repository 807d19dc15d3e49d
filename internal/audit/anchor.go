package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"xiezhi/internal/models"
	"xiezhi/pkg/chain"
)

// Anchor 包装 Store：Append 成功后异步把 (event_id, integrity_hash) 按批提交 Merkle 存证。
// 不阻塞审计写入；批次失败只记日志并保留到下一批。
type Anchor struct {
	inner     Store
	ledger    chain.Ledger
	batchSize int
	interval  time.Duration
	ch        chan chain.Leaf
	done      chan struct{}
	wg        sync.WaitGroup
	log       *slog.Logger
	now       func() time.Time
}

// NewAnchor 创建存证包装；调用 Start 启动后台刷批，关闭时调用 Stop。
func NewAnchor(inner Store, ledger chain.Ledger, batchSize int, interval time.Duration, lg *slog.Logger) *Anchor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if lg == nil {
		lg = slog.Default()
	}
	return &Anchor{
		inner:     inner,
		ledger:    ledger,
		batchSize: batchSize,
		interval:  interval,
		ch:        make(chan chain.Leaf, 500),
		done:      make(chan struct{}),
		log:       lg,
		now:       time.Now,
	}
}

// Start 启动后台 goroutine：按批次大小或定时调用 Ledger.AppendBatch。
func (a *Anchor) Start() {
	a.wg.Add(1)
	go a.flushLoop()
}

// Stop 停止后台并等待当前批提交完成。
func (a *Anchor) Stop() {
	close(a.done)
	a.wg.Wait()
}

func (a *Anchor) flushLoop() {
	defer a.wg.Done()
	var buf []chain.Leaf
	tick := time.NewTicker(a.interval)
	defer tick.Stop()
	flush := func() {
		if len(buf) == 0 {
			return
		}
		batchID := "audit-" + a.now().UTC().Format("20060102150405.000000")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		root, err := a.ledger.AppendBatch(ctx, batchID, buf)
		cancel()
		if err != nil {
			a.log.Warn("audit anchor batch failed", "batch_id", batchID, "leaves", len(buf), "error", err)
			return
		}
		a.log.Debug("audit batch anchored", "batch_id", batchID, "leaves", len(buf), "merkle_root", root)
		buf = nil
	}
	for {
		select {
		case <-a.done:
			for drained := false; !drained; {
				select {
				case l := <-a.ch:
					buf = append(buf, l)
				default:
					drained = true
				}
			}
			flush()
			return
		case l := <-a.ch:
			buf = append(buf, l)
			if len(buf) >= a.batchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}

// Append 先写内层 Store，再投递叶节点到存证批次（通道满时丢弃，不阻塞）。
func (a *Anchor) Append(ctx context.Context, e *models.AuditEvent) error {
	if err := a.inner.Append(ctx, e); err != nil {
		return err
	}
	if e == nil || e.IntegrityHash == "" {
		return nil
	}
	select {
	case a.ch <- chain.Leaf{EventID: e.EventID, Hash: e.IntegrityHash}:
	default:
		a.log.Warn("audit anchor queue full; event not anchored", "event_id", e.EventID)
	}
	return nil
}

// QueryBySession 委托内层。
func (a *Anchor) QueryBySession(ctx context.Context, sessionID string) ([]*models.AuditEvent, error) {
	return a.inner.QueryBySession(ctx, sessionID)
}

// Last 委托内层。
func (a *Anchor) Last(ctx context.Context, sessionID string) (*models.AuditEvent, error) {
	return a.inner.Last(ctx, sessionID)
}

// Proof 返回事件的存证路径。
func (a *Anchor) Proof(ctx context.Context, eventID string) (*chain.MerkleProof, error) {
	return a.ledger.GetMerkleProof(ctx, eventID)
}
