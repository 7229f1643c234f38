package prestate

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func exampleSuperRoot() SuperRoot {
	return SuperRoot{
		Timestamp: 100,
		Chains: []ChainRoot{
			{ChainID: big.NewInt(1), OutputRoot: common.HexToHash("0x01")},
			{ChainID: big.NewInt(10), OutputRoot: common.HexToHash("0x0a")},
		},
	}
}

func TestSuperRootEncodeDecodeRoundTrip(t *testing.T) {
	s := exampleSuperRoot()
	enc, err := s.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if enc[0] != SuperRootVersion {
		t.Fatalf("version byte = %#x, want %#x", enc[0], SuperRootVersion)
	}
	decoded, err := DecodeSuperRoot(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Timestamp != s.Timestamp || len(decoded.Chains) != len(s.Chains) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, s)
	}
}

func TestSuperRootRejectsUnsortedChains(t *testing.T) {
	s := SuperRoot{
		Timestamp: 1,
		Chains: []ChainRoot{
			{ChainID: big.NewInt(10), OutputRoot: common.HexToHash("0x0a")},
			{ChainID: big.NewInt(1), OutputRoot: common.HexToHash("0x01")},
		},
	}
	if _, err := s.Encode(); err != ErrUnsorted {
		t.Fatalf("expected ErrUnsorted, got %v", err)
	}
}

func TestTransitionStateEncodeDecodeRoundTrip(t *testing.T) {
	ts := TransitionState{PreState: exampleSuperRoot()}
	ts, err := ts.AppendBlock(OptimisticBlock{BlockHash: common.HexToHash("0xaa"), OutputRoot: common.HexToHash("0xbb")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	enc, err := ts.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if enc[0] != TransitionStateVersion {
		t.Fatalf("version byte = %#x, want %#x", enc[0], TransitionStateVersion)
	}
	decoded, err := DecodeTransitionState(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Step != 1 || len(decoded.PendingProgress) != 1 {
		t.Fatalf("round trip mismatch: got %+v", decoded)
	}
}

func TestTransitionStateStepLimitEnforced(t *testing.T) {
	ts := TransitionState{PreState: exampleSuperRoot(), Step: 4} // limit = 2 chains * 2
	if _, err := ts.AppendBlock(OptimisticBlock{}); err == nil {
		t.Fatalf("expected step-limit error, got nil")
	}
}

func TestCheckClaimDetectsMismatch(t *testing.T) {
	ts := TransitionState{PreState: exampleSuperRoot()}
	if err := ts.CheckClaim(common.HexToHash("0xdeadbeef")); err == nil {
		t.Fatalf("expected InvalidTransitionHash, got nil")
	} else if _, ok := err.(*InvalidTransitionHash); !ok {
		t.Fatalf("expected *InvalidTransitionHash, got %T", err)
	}
}
