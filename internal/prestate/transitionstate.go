package prestate

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// InvalidTransitionHash is returned when a locally-recomputed post-state
// commitment does not match the claimed value, per §4.11's
// "InvalidClaim(expected, actual)".
type InvalidTransitionHash struct {
	Expected common.Hash
	Actual   common.Hash
}

func (e *InvalidTransitionHash) Error() string {
	return fmt.Sprintf("prestate: invalid transition: expected %s, got %s", e.Expected, e.Actual)
}

// OptimisticBlock is one executed L2 block recorded into a TransitionState's
// pending-progress list, per §4.11.
type OptimisticBlock struct {
	BlockHash  common.Hash
	OutputRoot common.Hash
}

// TransitionState is `{ pre_state: SuperRoot, pending_progress: ordered
// list of (block_hash, output_root), step: u64 }`, per §4.11.
type TransitionState struct {
	PreState        SuperRoot
	PendingProgress []OptimisticBlock
	Step            uint64
}

// StepLimit returns the program-defined upper bound on Step relative to the
// pre-state's chain count. SPEC_FULL §5 resolves the Open Question left by
// §9 ("step <= pre_state.output_roots.len() * k ... local-invariant check
// the implementer should add") as k=2: one step to execute a block plus one
// step to fold its output root into the super root, per dependency chain.
func (t TransitionState) StepLimit() uint64 {
	return uint64(len(t.PreState.Chains)) * 2
}

// Validate enforces the pre-state sort invariant and the step bound.
func (t TransitionState) Validate() error {
	if err := t.PreState.Validate(); err != nil {
		return err
	}
	if t.Step > t.StepLimit() {
		return fmt.Errorf("prestate: step %d exceeds limit %d", t.Step, t.StepLimit())
	}
	return nil
}

// Encode renders the canonical TransitionState encoding: `0xFF ||
// RLP(SuperRoot_encoding) || RLP(pending_progress_list) || RLP(step)`.
func (t TransitionState) Encode() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	superEnc, err := t.PreState.Encode()
	if err != nil {
		return nil, err
	}
	superRLP, err := rlp.EncodeToBytes(superEnc)
	if err != nil {
		return nil, err
	}
	entries := make([]rlpPendingEntry, len(t.PendingProgress))
	for i, p := range t.PendingProgress {
		entries[i] = rlpPendingEntry{BlockHash: p.BlockHash, OutputRoot: p.OutputRoot}
	}
	pendingRLP, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return nil, err
	}
	stepRLP, err := rlp.EncodeToBytes(t.Step)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(superRLP)+len(pendingRLP)+len(stepRLP))
	out = append(out, TransitionStateVersion)
	out = append(out, superRLP...)
	out = append(out, pendingRLP...)
	out = append(out, stepRLP...)
	return out, nil
}

// DecodeTransitionState is the inverse of Encode.
func DecodeTransitionState(enc []byte) (TransitionState, error) {
	if len(enc) < 1 || enc[0] != TransitionStateVersion {
		return TransitionState{}, fmt.Errorf("prestate: invalid transition state encoding")
	}
	stream := rlp.NewStream(bytes.NewReader(enc[1:]), 0)

	var superEnc []byte
	if err := stream.Decode(&superEnc); err != nil {
		return TransitionState{}, fmt.Errorf("prestate: decode super root field: %w", err)
	}
	superRoot, err := DecodeSuperRoot(superEnc)
	if err != nil {
		return TransitionState{}, err
	}

	var entries []rlpPendingEntry
	if err := stream.Decode(&entries); err != nil {
		return TransitionState{}, fmt.Errorf("prestate: decode pending progress field: %w", err)
	}

	var step uint64
	if err := stream.Decode(&step); err != nil {
		return TransitionState{}, fmt.Errorf("prestate: decode step field: %w", err)
	}

	pending := make([]OptimisticBlock, len(entries))
	for i, e := range entries {
		pending[i] = OptimisticBlock{BlockHash: e.BlockHash, OutputRoot: e.OutputRoot}
	}
	t := TransitionState{PreState: superRoot, PendingProgress: pending, Step: step}
	if err := t.Validate(); err != nil {
		return TransitionState{}, err
	}
	return t, nil
}

// Commitment returns keccak256 of the canonical encoding.
func (t TransitionState) Commitment() (common.Hash, error) {
	enc, err := t.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// AppendBlock applies the transition rule: appending an OptimisticBlock
// increments Step by 1, per §4.11.
func (t TransitionState) AppendBlock(b OptimisticBlock) (TransitionState, error) {
	next := TransitionState{
		PreState:        t.PreState,
		PendingProgress: append(append([]OptimisticBlock(nil), t.PendingProgress...), b),
		Step:            t.Step + 1,
	}
	if next.Step > next.StepLimit() {
		return TransitionState{}, fmt.Errorf("prestate: step %d exceeds limit %d", next.Step, next.StepLimit())
	}
	return next, nil
}

// CheckClaim recomputes this state's commitment and compares it to the
// claimed post-state hash, returning *InvalidTransitionHash on mismatch.
func (t TransitionState) CheckClaim(claimed common.Hash) error {
	actual, err := t.Commitment()
	if err != nil {
		return err
	}
	if actual != claimed {
		return &InvalidTransitionHash{Expected: claimed, Actual: actual}
	}
	return nil
}
