package derive

import (
	"fmt"
	"sort"

	"github.com/faultproof/opcore/internal/chainprovider"
	"github.com/faultproof/opcore/internal/rollup"
)

// BatchQueue implements the pre-Holocene batch-provider mode: it buffers
// and reorders batches by timestamp and, before emitting the next eligible
// batch for the current safe head, checks only its parent hash and
// timestamp; L1-origin, sequence-window and transaction checks are not
// performed.
type BatchQueue struct {
	pending []SingleBatch
}

func (q *BatchQueue) Add(b SingleBatch) {
	q.pending = append(q.pending, b)
	sort.Slice(q.pending, func(i, j int) bool { return q.pending[i].Timestamp < q.pending[j].Timestamp })
}

func (q *BatchQueue) NextFor(parent chainprovider.L2BlockInfo, blockTime uint64) (SingleBatch, error) {
	for len(q.pending) > 0 {
		b := q.pending[0]
		if b.Timestamp < parent.Timestamp+blockTime {
			q.pending = q.pending[1:] // stale, drop
			continue
		}
		if b.ParentHash != parent.Hash || b.Timestamp != parent.Timestamp+blockTime {
			return SingleBatch{}, fmt.Errorf("%w: %s", ErrReset, ResetBadParent)
		}
		q.pending = q.pending[1:]
		return b, nil
	}
	return SingleBatch{}, fmt.Errorf("%w", ErrNotEnoughData)
}

// BatchValidator implements the post-Holocene mode, enforcing stricter
// in-order rules: batches must already arrive in the exact order the
// Batch Stream produced them (no reordering-by-timestamp buffering).
type BatchValidator struct {
	pending []SingleBatch
}

func (v *BatchValidator) Add(b SingleBatch) {
	v.pending = append(v.pending, b)
}

func (v *BatchValidator) NextFor(parent chainprovider.L2BlockInfo, blockTime uint64) (SingleBatch, error) {
	if len(v.pending) == 0 {
		return SingleBatch{}, fmt.Errorf("%w", ErrNotEnoughData)
	}
	b := v.pending[0]
	if b.ParentHash != parent.Hash || b.Timestamp != parent.Timestamp+blockTime {
		return SingleBatch{}, fmt.Errorf("%w: %s", ErrReset, ResetBadParent)
	}
	v.pending = v.pending[1:]
	return b, nil
}

// BatchProvider is the mux between BatchQueue (pre-Holocene) and
// BatchValidator (post-Holocene), transitioning on each call based on the
// current origin timestamp vs. Holocene activation. On transition, the
// list of tracked batches is carried across, per §4.8 stage 7.
type BatchProvider struct {
	cfg       *rollup.Config
	queue     *BatchQueue
	validator *BatchValidator
	holocene  bool
}

func NewBatchProvider(cfg *rollup.Config) *BatchProvider {
	return &BatchProvider{cfg: cfg, queue: &BatchQueue{}, validator: &BatchValidator{}}
}

func (p *BatchProvider) Add(b SingleBatch, originTimestamp uint64) {
	p.maybeTransition(originTimestamp)
	if p.holocene {
		p.validator.Add(b)
	} else {
		p.queue.Add(b)
	}
}

func (p *BatchProvider) maybeTransition(originTimestamp uint64) {
	nowHolocene := p.cfg.IsHolocene(originTimestamp)
	if nowHolocene && !p.holocene {
		// Carry the tracked batch list across the mux transition.
		p.validator.pending = append(p.validator.pending, p.queue.pending...)
		p.queue.pending = nil
	}
	p.holocene = nowHolocene
}

func (p *BatchProvider) NextFor(parent chainprovider.L2BlockInfo, originTimestamp uint64) (SingleBatch, error) {
	p.maybeTransition(originTimestamp)
	if p.holocene {
		return p.validator.NextFor(parent, p.cfg.BlockTime)
	}
	return p.queue.NextFor(parent, p.cfg.BlockTime)
}

func (p *BatchProvider) Reset() {
	p.queue = &BatchQueue{}
	p.validator = &BatchValidator{}
	p.holocene = false
}
