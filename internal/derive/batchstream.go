package derive

import (
	"bytes"
	"fmt"

	"github.com/faultproof/opcore/internal/chainprovider"
)

// BatchValidity mirrors the standard Drop/Future/Undecided/Accept batch-
// validity outcomes, per §4.8 stage 6.
type BatchValidity int

const (
	BatchDrop BatchValidity = iota
	BatchAccept
	BatchFuture
	BatchUndecided
)

// BatchStream is stage 6 (active post-Holocene): accepts a SingleBatch
// pass-through or expands a SpanBatch into a buffer of SingleBatches.
type BatchStream struct {
	reader *ChannelReader
	buffer []SingleBatch
}

func NewBatchStream(reader *ChannelReader) *BatchStream {
	return &BatchStream{reader: reader}
}

// Ingest validates and, for a SpanBatch, expands b against the given
// parent into the stream's pending SingleBatch buffer. An invalid span
// batch signals the caller to flush the upstream channel reader and drop
// it, per §4.8 stage 6.
func (s *BatchStream) Ingest(b Batch, parent chainprovider.L2BlockInfo, blockTime uint64) (BatchValidity, error) {
	if b.Single != nil {
		s.buffer = append(s.buffer, *b.Single)
		return BatchAccept, nil
	}
	if b.Span == nil {
		return BatchDrop, fmt.Errorf("%w: empty batch union", ErrCritical)
	}
	expanded, validity := expandSpanBatch(*b.Span, parent, blockTime)
	if validity != BatchAccept {
		return validity, nil
	}
	s.buffer = append(s.buffer, expanded...)
	return BatchAccept, nil
}

// expandSpanBatch checks the span batch's parent-hash prefix against the
// parent L2 block (its L1-origin check is not evaluated), then recovers
// per-block SingleBatches from the relative timestamps and tx counts.
func expandSpanBatch(sb SpanBatch, parent chainprovider.L2BlockInfo, blockTime uint64) ([]SingleBatch, BatchValidity) {
	var parentHashPrefix [20]byte
	copy(parentHashPrefix[:], parent.Hash[:20])
	if !bytes.Equal(sb.ParentCheck[:], parentHashPrefix[:]) {
		return nil, BatchDrop
	}
	if len(sb.RelativeTimestamps) != int(sb.BlockCount) || len(sb.BlockTxCounts) != int(sb.BlockCount) {
		return nil, BatchDrop
	}

	out := make([]SingleBatch, 0, sb.BlockCount)
	txIx := 0
	prevHash := parent.Hash
	for i := uint64(0); i < sb.BlockCount; i++ {
		ts := sb.GenesisTimestamp + sb.RelativeTimestamps[i]
		count := int(sb.BlockTxCounts[i])
		if txIx+count > len(sb.TxData) {
			return nil, BatchDrop
		}
		txs := append([][]byte(nil), sb.TxData[txIx:txIx+count]...)
		txIx += count
		single := SingleBatch{
			ParentHash: prevHash,
			Timestamp:  ts,
			Transactions: txs,
		}
		out = append(out, single)
		// The recovered batch's own hash isn't known without executing it;
		// the Attributes Queue (stage 8) is the authority that actually
		// chains parent_hash via the executed header, so this expansion
		// only needs to produce timestamp-correct, tx-correct batches in
		// order — chaining is re-validated per-block downstream.
		_ = blockTime
	}
	return out, BatchAccept
}

// Next pops the next expanded SingleBatch, or ErrNotEnoughData if the
// buffer is empty.
func (s *BatchStream) Next() (SingleBatch, error) {
	if len(s.buffer) == 0 {
		return SingleBatch{}, fmt.Errorf("%w", ErrNotEnoughData)
	}
	b := s.buffer[0]
	s.buffer = s.buffer[1:]
	return b, nil
}

func (s *BatchStream) Reset() { s.buffer = nil }
