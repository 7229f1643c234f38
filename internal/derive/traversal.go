package derive

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/faultproof/opcore/internal/chainprovider"
	"github.com/faultproof/opcore/internal/rollup"
)

// Traversal is stage 1: holds the current L1 BlockInfo and the in-memory
// SystemConfig derived from scanning L1 receipts for config-update events,
// per §4.8 stage 1.
type Traversal struct {
	l1     *chainprovider.L1Provider
	cfg    *rollup.Config
	current types.Header
	sysCfg  rollup.SystemConfig
	l1Head  common.Hash
}

func NewTraversal(l1 *chainprovider.L1Provider, cfg *rollup.Config, origin types.Header, sysCfg rollup.SystemConfig, l1Head common.Hash) *Traversal {
	return &Traversal{l1: l1, cfg: cfg, current: origin, sysCfg: sysCfg, l1Head: l1Head}
}

func (t *Traversal) Origin() types.Header          { return t.current }
func (t *Traversal) SystemConfig() rollup.SystemConfig { return t.sysCfg }

// AdvanceOrigin fetches block current.Number+1 and asserts its parent hash
// matches the current origin, detecting an L1 reorg. Once the current
// origin is the boot-provided L1 head (Local key 1, §6), there is nothing
// further to fetch and the stage reports ErrEndOfSource instead.
func (t *Traversal) AdvanceOrigin() error {
	if t.current.Hash() == t.l1Head {
		return fmt.Errorf("%w", ErrEndOfSource)
	}
	next, err := t.l1.BlockInfoByNumber(t.l1Head, t.current.Number.Uint64()+1)
	if err != nil {
		return fmt.Errorf("%w: fetch next origin: %v", ErrTemporary, err)
	}
	if next.ParentHash != t.current.Hash() {
		return fmt.Errorf("%w: %s: expected parent %s got %s", ErrReset, ResetReorgDetected, t.current.Hash(), next.ParentHash)
	}
	receipts, err := t.l1.ReceiptsByHash(next.Hash())
	if err != nil {
		return fmt.Errorf("%w: fetch receipts for config scan: %v", ErrTemporary, err)
	}
	t.scanSystemConfigUpdates(receipts)
	t.current = *next
	return nil
}

// scanSystemConfigUpdates updates the tracked SystemConfig from any
// config-update events emitted by the L1SystemConfigAddress contract,
// tracking batcher address, overhead/scalar, and gas limit, per
// SPEC_FULL §3.3.
func (t *Traversal) scanSystemConfigUpdates(receipts types.Receipts) {
	for _, r := range receipts {
		for _, l := range r.Logs {
			if l.Address != t.cfg.L1SystemConfigAddress {
				continue
			}
			t.applyConfigUpdateLog(l)
		}
	}
}

func (t *Traversal) applyConfigUpdateLog(l *types.Log) {
	if len(l.Topics) == 0 || len(l.Data) < 32 {
		return
	}
	// Topic[1] (if present) identifies the update type; data layout mirrors
	// the real SystemConfig contract's UPDATE_TYPE enum (batcher,
	// gas-config, gas-limit, unsafe-block-signer). We only decode the
	// fields this spec models.
	switch {
	case len(l.Topics) > 1 && l.Topics[1] == common.HexToHash("0x0"): // batcher update
		if len(l.Data) >= 32 {
			t.sysCfg.BatcherAddr = common.BytesToAddress(l.Data[12:32])
		}
	case len(l.Topics) > 1 && l.Topics[1] == common.HexToHash("0x1"): // gas-config update
		if len(l.Data) >= 64 {
			copy(t.sysCfg.Overhead[:], l.Data[0:32])
			copy(t.sysCfg.Scalar[:], l.Data[32:64])
		}
	case len(l.Topics) > 1 && l.Topics[1] == common.HexToHash("0x2"): // gas-limit update
		if len(l.Data) >= 32 {
			t.sysCfg.GasLimit = common.BytesToHash(l.Data[:32]).Big().Uint64()
		}
	}
}

func (t *Traversal) Reset(origin types.Header, sysCfg rollup.SystemConfig) {
	t.current = origin
	t.sysCfg = sysCfg
}
