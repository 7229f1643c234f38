// Package executor implements the Stateless Executor (spec §4.9): EVM
// configuration, transaction env construction, block application, and
// root/output-root recomputation against a TrieDB-backed state.
//
// Grounded on _examples/okx-xlayer-toolkit/demo/core/tx/executor.go and
// core/block/{block,builder}.go for the dispatch-by-type execution shape
// and header-construction flow (ExecuteResult/StateChange-style result
// objects, Builder.BuildBlock), generalised from the teacher's toy DEX
// transaction set to real EVM/2718 transaction execution and deposit
// transactions via github.com/ethereum/go-ethereum/core/vm.
package executor

import (
	"encoding/binary"
	"fmt"
)

// DecodeHoloceneExtraData parses the post-Holocene header extra-data
// layout `version:u8 || denominator:u32 || elasticity:u32`, per §4.9 step 2.
func DecodeHoloceneExtraData(extra []byte) (denominator, elasticity uint32, err error) {
	if len(extra) != 9 {
		return 0, 0, fmt.Errorf("executor: %w: holocene extra-data length %d", ErrInvalidExtraData, len(extra))
	}
	if extra[0] != 0 {
		return 0, 0, fmt.Errorf("executor: %w: unknown holocene extra-data version %d", ErrInvalidExtraData, extra[0])
	}
	denominator = binary.BigEndian.Uint32(extra[1:5])
	elasticity = binary.BigEndian.Uint32(extra[5:9])
	return denominator, elasticity, nil
}

// EncodeHoloceneExtraData is the inverse of DecodeHoloceneExtraData, used
// when sealing a new header post-Holocene.
func EncodeHoloceneExtraData(denominator, elasticity uint32) []byte {
	out := make([]byte, 9)
	binary.BigEndian.PutUint32(out[1:5], denominator)
	binary.BigEndian.PutUint32(out[5:9], elasticity)
	return out
}

// NextBaseFee computes the next-block base fee from the parent's gas usage
// and the active 1559 parameters (Canyon-constant params pre-Holocene,
// per-header encoded params post-Holocene), using the standard EIP-1559
// formula.
func NextBaseFee(parentBaseFee uint64, parentGasUsed, parentGasTarget uint64, denominator uint32) uint64 {
	if denominator == 0 {
		denominator = 250 // Canyon default denominator
	}
	if parentGasUsed == parentGasTarget {
		return parentBaseFee
	}
	if parentGasUsed > parentGasTarget {
		gasDelta := parentGasUsed - parentGasTarget
		delta := max64(parentBaseFee*gasDelta/parentGasTarget/uint64(denominator), 1)
		return parentBaseFee + delta
	}
	gasDelta := parentGasTarget - parentGasUsed
	delta := parentBaseFee * gasDelta / parentGasTarget / uint64(denominator)
	if delta > parentBaseFee {
		return 0
	}
	return parentBaseFee - delta
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
