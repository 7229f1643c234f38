// Package prestate implements the Pre-state Commitment codec (spec §4.11):
// SuperRoot and TransitionState, their canonical encodings, and the
// append-one-step transition rule the driver applies per executed block.
//
// Grounded on _examples/other_examples' Wollac-optimism interop.go for the
// SuperRoot/TransitionState shape and step semantics, adapted from its
// recursive multi-chain interop program to this module's single-driver
// loop; encoding mechanics (RLP of nested lists, keccak256 commitment)
// follow the same github.com/ethereum/go-ethereum/rlp and crypto usage as
// internal/mpt.
package prestate

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SuperRootVersion and TransitionStateVersion are the leading version bytes
// of each form's canonical encoding, per §4.11.
const (
	SuperRootVersion       byte = 0xA0
	TransitionStateVersion byte = 0xFF
)

// ErrUnsorted is returned when a SuperRoot's chain entries are not sorted
// strictly ascending by chain id, per invariant §8.
var ErrUnsorted = fmt.Errorf("prestate: output roots not sorted strictly by chain id")

// ChainRoot is one (chain_id, output_root) entry of a SuperRoot.
type ChainRoot struct {
	ChainID    *big.Int
	OutputRoot common.Hash
}

// SuperRoot is `{ timestamp, sorted list of (chain_id, output_root) }`,
// per §4.11.
type SuperRoot struct {
	Timestamp uint64
	Chains    []ChainRoot
}

// Validate checks the sorted-strictly-by-chain-id invariant.
func (s SuperRoot) Validate() error {
	for i := 1; i < len(s.Chains); i++ {
		if s.Chains[i-1].ChainID.Cmp(s.Chains[i].ChainID) >= 0 {
			return ErrUnsorted
		}
	}
	return nil
}

// Encode renders the canonical SuperRoot encoding:
// `0xA0 || timestamp:u64 BE || for each (chain_id, output_root):
// chain_id:u256 BE || output_root:32B`.
func (s SuperRoot) Encode() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+8+len(s.Chains)*64)
	out = append(out, SuperRootVersion)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], s.Timestamp)
	out = append(out, ts[:]...)
	for _, c := range s.Chains {
		var idBytes [32]byte
		c.ChainID.FillBytes(idBytes[:])
		out = append(out, idBytes[:]...)
		out = append(out, c.OutputRoot[:]...)
	}
	return out, nil
}

// DecodeSuperRoot is the inverse of Encode.
func DecodeSuperRoot(enc []byte) (SuperRoot, error) {
	if len(enc) < 9 || enc[0] != SuperRootVersion {
		return SuperRoot{}, fmt.Errorf("prestate: invalid super root encoding")
	}
	if (len(enc)-9)%64 != 0 {
		return SuperRoot{}, fmt.Errorf("prestate: super root chain-list length misaligned")
	}
	s := SuperRoot{Timestamp: binary.BigEndian.Uint64(enc[1:9])}
	rest := enc[9:]
	for len(rest) > 0 {
		chainID := new(big.Int).SetBytes(rest[:32])
		outputRoot := common.BytesToHash(rest[32:64])
		s.Chains = append(s.Chains, ChainRoot{ChainID: chainID, OutputRoot: outputRoot})
		rest = rest[64:]
	}
	if err := s.Validate(); err != nil {
		return SuperRoot{}, err
	}
	return s, nil
}

// Commitment returns keccak256 of the canonical encoding.
func (s SuperRoot) Commitment() (common.Hash, error) {
	enc, err := s.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// SortChains sorts Chains ascending by chain id in place, for callers
// assembling a SuperRoot from an unordered chain set.
func (s *SuperRoot) SortChains() {
	sort.Slice(s.Chains, func(i, j int) bool { return s.Chains[i].ChainID.Cmp(s.Chains[j].ChainID) < 0 })
}

// rlpPendingEntry is the RLP shape of one TransitionState pending-progress
// entry: `RLP([block_hash, output_root])`, per §4.11.
type rlpPendingEntry struct {
	BlockHash  common.Hash
	OutputRoot common.Hash
}
