package interop

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/faultproof/opcore/internal/prestate"
)

type stubDeriver struct {
	blockHash  common.Hash
	outputRoot common.Hash
	reached    bool
	err        error
}

func (s stubDeriver) DeriveTo(chainID *big.Int, agreedOutputRoot common.Hash, onlyDeposits bool) (common.Hash, common.Hash, bool, error) {
	return s.blockHash, s.outputRoot, s.reached, s.err
}

func twoChainPreState() prestate.SuperRoot {
	return prestate.SuperRoot{
		Timestamp: 1000,
		Chains: []prestate.ChainRoot{
			{ChainID: big.NewInt(1), OutputRoot: common.HexToHash("0xaa")},
			{ChainID: big.NewInt(2), OutputRoot: common.HexToHash("0xbb")},
		},
	}
}

func TestRunStepAppendsDerivedBlockAndAdvancesStep(t *testing.T) {
	pre := twoChainPreState()
	state := prestate.TransitionState{PreState: pre, Step: 0}
	deriver := stubDeriver{
		blockHash:  common.HexToHash("0x01"),
		outputRoot: common.HexToHash("0x02"),
		reached:    true,
	}

	got, err := RunStep(mustCommit(t, prestate.TransitionState{PreState: pre}), state, deriver, false)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}

	want, err := prestate.TransitionState{
		PreState:        pre,
		PendingProgress: []prestate.OptimisticBlock{{BlockHash: deriver.blockHash, OutputRoot: deriver.outputRoot}},
		Step:            1,
	}.Commitment()
	if err != nil {
		t.Fatalf("commit expected: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestRunStepReturnsInvalidWhenAgreedPrestateAlreadyInvalid(t *testing.T) {
	got, err := RunStep(invalidTransitionHash, prestate.TransitionState{}, stubDeriver{}, false)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if got != invalidTransitionHash {
		t.Fatalf("expected invalid transition hash sentinel, got %s", got)
	}
}

func TestRunStepMapsL1HeadReachedToInvalidTransition(t *testing.T) {
	pre := twoChainPreState()
	state := prestate.TransitionState{PreState: pre, Step: 0}
	deriver := stubDeriver{err: ErrL1HeadReached}

	got, err := RunStep(mustCommit(t, prestate.TransitionState{PreState: pre}), state, deriver, false)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if got != invalidTransitionHash {
		t.Fatalf("expected invalid transition hash sentinel, got %s", got)
	}
}

func TestRunStepPropagatesOtherDeriverErrors(t *testing.T) {
	pre := twoChainPreState()
	state := prestate.TransitionState{PreState: pre, Step: 0}
	wantErr := errors.New("boom")
	deriver := stubDeriver{err: wantErr}

	_, err := RunStep(mustCommit(t, prestate.TransitionState{PreState: pre}), state, deriver, false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped %v, got %v", wantErr, err)
	}
}

func TestRunStepNotReachedIsInvalidTransition(t *testing.T) {
	pre := twoChainPreState()
	state := prestate.TransitionState{PreState: pre, Step: 0}
	deriver := stubDeriver{reached: false}

	got, err := RunStep(mustCommit(t, prestate.TransitionState{PreState: pre}), state, deriver, false)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if got != invalidTransitionHash {
		t.Fatalf("expected invalid transition hash sentinel, got %s", got)
	}
}

func TestRunStepAtFinalStepFoldsWithoutDeriving(t *testing.T) {
	pre := twoChainPreState()
	// Step already equals len(chains): nothing left to derive, the call just
	// folds the existing pending progress forward by one step.
	state := prestate.TransitionState{
		PreState:        pre,
		PendingProgress: []prestate.OptimisticBlock{{BlockHash: common.HexToHash("0x1"), OutputRoot: common.HexToHash("0x2")}},
		Step:            uint64(len(pre.Chains)),
	}
	deriver := stubDeriver{err: errors.New("must not be called")}

	got, err := RunStep(mustCommit(t, prestate.TransitionState{PreState: pre}), state, deriver, false)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	want, err := prestate.TransitionState{
		PreState:        pre,
		PendingProgress: state.PendingProgress,
		Step:            state.Step + 1,
	}.Commitment()
	if err != nil {
		t.Fatalf("commit expected: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func mustCommit(t *testing.T, s prestate.TransitionState) common.Hash {
	t.Helper()
	h, err := s.Commitment()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return h
}
