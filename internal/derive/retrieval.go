package derive

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/faultproof/opcore/internal/blob"
	"github.com/faultproof/opcore/internal/chainprovider"
	"github.com/faultproof/opcore/internal/rollup"
)

// Retrieval is stage 2: owns a data-source bound to the current L1 origin
// and, on exhaustion, drives Traversal forward and rebinds. Filters
// transactions by `to == batcher_address && from == configured_signer` and
// extracts either calldata (non-4844) or blob payloads (4844) keyed by the
// transaction's versioned hashes, per §4.8 stage 2.
type Retrieval struct {
	l1        *chainprovider.L1Provider
	blobs     *blob.Provider
	cfg       *rollup.Config
	traversal *Traversal

	source   []txOrBlob
	sourceIx int
}

type txOrBlob struct {
	calldata []byte
	blobHash [32]byte
	hasBlob  bool
}

func NewRetrieval(l1 *chainprovider.L1Provider, blobs *blob.Provider, cfg *rollup.Config, traversal *Traversal) *Retrieval {
	return &Retrieval{l1: l1, blobs: blobs, cfg: cfg, traversal: traversal}
}

// NextData emits the next transaction-carrying chunk for the current
// origin; when exhausted, advances the origin and rebinds the source.
func (r *Retrieval) NextData() ([]byte, error) {
	if r.source == nil || r.sourceIx >= len(r.source) {
		if err := r.rebind(); err != nil {
			return nil, err
		}
	}
	if r.sourceIx >= len(r.source) {
		return nil, fmt.Errorf("%w", ErrNotEnoughData)
	}
	item := r.source[r.sourceIx]
	r.sourceIx++
	if item.hasBlob {
		b, err := r.blobs.GetBlob(r.traversal.Origin().Time, blob.IndexedHash{Hash: item.blobHash})
		if err != nil {
			return nil, fmt.Errorf("%w: fetch blob: %v", ErrTemporary, err)
		}
		return b[:], nil
	}
	return item.calldata, nil
}

func (r *Retrieval) rebind() error {
	origin := r.traversal.Origin()
	_, txs, err := r.l1.BlockInfoAndTransactionsByHash(origin.Hash())
	if err != nil {
		return fmt.Errorf("%w: fetch block txs: %v", ErrTemporary, err)
	}
	sysCfg := r.traversal.SystemConfig()
	r.source = r.source[:0]
	r.sourceIx = 0
	for _, tx := range txs {
		if tx.To() == nil || *tx.To() != r.cfg.BatchInboxAddress {
			continue
		}
		if !isFromConfiguredSigner(tx, sysCfg) {
			continue
		}
		if len(tx.BlobHashes()) > 0 {
			for _, h := range tx.BlobHashes() {
				r.source = append(r.source, txOrBlob{blobHash: h, hasBlob: true})
			}
		} else {
			r.source = append(r.source, txOrBlob{calldata: tx.Data()})
		}
	}
	if err := r.traversal.AdvanceOrigin(); err != nil {
		return err
	}
	return nil
}

// isFromConfiguredSigner checks the tx sender against the batcher address
// tracked in the current system config. Sender recovery uses the tx's own
// cached signer where available; a stateless context cannot access
// chain-id-aware signer caches, so this uses types.LatestSignerForChainID
// built from the tx's own chain id field.
func isFromConfiguredSigner(tx *types.Transaction, cfg rollup.SystemConfig) bool {
	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, tx)
	if err != nil {
		return false
	}
	return from == cfg.BatcherAddr
}
