// Package interop implements the minimal Dependency Graph / cross-chain
// executing-message program (spec §2: "Cross-chain executing-message
// validation and deposit-only re-execution").
//
// Grounded on
// _examples/Wollac-optimism/op-program/client/interop/interop.go's
// RunInteropProgram/stateTransition/parseAgreedState/deriveOptimisticBlock,
// adapted from its multi-task op-program wiring (boot.BootInfoInterop,
// l1.Oracle/l2.Oracle, tasks.RunDerivation, per-chain rollup/chain config
// registry) to this module's own internal/prestate types and a single
// BlockDeriver seam in place of the teacher's taskExecutor.
package interop

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/faultproof/opcore/internal/prestate"
)

// ErrL1HeadReached mirrors the teacher's sentinel: derivation ran out of L1
// data before reaching the claimed L2 block number, which resolves to
// InvalidTransitionHash rather than a hard failure.
var ErrL1HeadReached = errors.New("interop: l1 head reached before claimed block")

// invalidTransitionHash is keccak256("invalid"), the canonical sentinel
// commitment a claim is compared against when a cross-chain transition
// cannot be validated. Computed at package init so claims produced against
// either implementation agree bit for bit.
var invalidTransitionHash = crypto.Keccak256Hash([]byte("invalid"))

// InvalidTransitionHash returns the sentinel commitment.
func InvalidTransitionHash() common.Hash { return invalidTransitionHash }

// BlockDeriver runs one chain's single-shot derivation loop against the
// agreed output root and reports the resulting block, or reachedTarget=false
// if L1 data ran out before the target was reached. onlyDeposits requests
// deposit-only re-execution for the step, per spec §2's "deposit-only
// re-execution".
type BlockDeriver interface {
	DeriveTo(chainID *big.Int, agreedOutputRoot common.Hash, onlyDeposits bool) (blockHash, outputRoot common.Hash, reachedTarget bool, err error)
}

// RunStep executes one transition step of the interop program: given the
// agreed pre-state (a SuperRoot at step 0, or an in-progress
// TransitionState otherwise), it derives the next chain's optimistic block
// and returns the expected post-state commitment, matching the teacher's
// stateTransition.
func RunStep(agreedPrestate common.Hash, state prestate.TransitionState, deriver BlockDeriver, onlyDeposits bool) (common.Hash, error) {
	if agreedPrestate == invalidTransitionHash {
		return invalidTransitionHash, nil
	}

	pending := append([]prestate.OptimisticBlock(nil), state.PendingProgress...)
	if state.Step < uint64(len(state.PreState.Chains)) {
		next := state.PreState.Chains[state.Step]
		blockHash, outputRoot, reached, err := deriver.DeriveTo(next.ChainID, next.OutputRoot, onlyDeposits)
		if errors.Is(err, ErrL1HeadReached) {
			return invalidTransitionHash, nil
		}
		if err != nil {
			return common.Hash{}, err
		}
		if !reached {
			return invalidTransitionHash, nil
		}
		pending = append(pending, prestate.OptimisticBlock{BlockHash: blockHash, OutputRoot: outputRoot})
	}

	final := prestate.TransitionState{
		PreState:        state.PreState,
		PendingProgress: pending,
		Step:            state.Step + 1,
	}
	return final.Commitment()
}
