package chainprovider

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/faultproof/opcore/internal/preimage"
	"github.com/faultproof/opcore/internal/rollup"
)

// stubOracle answers Get by looking the key up in a map populated by the
// test, and records every Hint it receives.
type stubOracle struct {
	data  map[[32]byte][]byte
	hints []string
}

func newStubOracle() *stubOracle { return &stubOracle{data: map[[32]byte][]byte{}} }

func (o *stubOracle) Hint(hint string) { o.hints = append(o.hints, hint) }

func (o *stubOracle) Get(key [32]byte) ([]byte, error) {
	v, ok := o.data[key]
	if !ok {
		return nil, preimage.ErrNotFound
	}
	return v, nil
}

func (o *stubOracle) putHeader(h *types.Header) common.Hash {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic(err)
	}
	hash := h.Hash()
	o.data[preimage.Keccak256Key(hash).PreimageKey()] = enc
	return hash
}

func chain(n int) []*types.Header {
	headers := make([]*types.Header, n)
	parent := common.Hash{}
	for i := 0; i < n; i++ {
		h := &types.Header{
			ParentHash: parent,
			Number:     big.NewInt(int64(i)),
			Time:       uint64(1000 + i),
			Extra:      []byte{byte(i)}, // keeps successive headers' hashes distinct
		}
		headers[i] = h
		parent = h.Hash()
	}
	return headers
}

func TestL1BlockInfoByNumberWalksParentChain(t *testing.T) {
	oracle := newStubOracle()
	headers := chain(5)
	for _, h := range headers {
		oracle.putHeader(h)
	}
	p := NewL1Provider(oracle)

	got, err := p.BlockInfoByNumber(headers[4].Hash(), 2)
	if err != nil {
		t.Fatalf("BlockInfoByNumber: %v", err)
	}
	if got.Hash() != headers[2].Hash() {
		t.Fatalf("got header %d want header 2", got.Number.Uint64())
	}
}

func TestL1BlockInfoByNumberRejectsNonAncestor(t *testing.T) {
	oracle := newStubOracle()
	headers := chain(3)
	for _, h := range headers {
		oracle.putHeader(h)
	}
	p := NewL1Provider(oracle)

	if _, err := p.BlockInfoByNumber(headers[1].Hash(), 2); err == nil {
		t.Fatalf("expected error walking past an ancestor of number 1 to reach number 2")
	}
}

func TestL2HeaderByNumberRejectsPastSafeHead(t *testing.T) {
	oracle := newStubOracle()
	headers := chain(3)
	for _, h := range headers {
		oracle.putHeader(h)
	}
	p := NewL2Provider(oracle, headers[2].Hash(), 2)

	if _, err := p.HeaderByNumber(3); err != ErrBlockNumberPastHead {
		t.Fatalf("expected ErrBlockNumberPastHead, got %v", err)
	}
}

func TestL2HeaderByNumberWalksBackFromSafeHead(t *testing.T) {
	oracle := newStubOracle()
	headers := chain(4)
	for _, h := range headers {
		oracle.putHeader(h)
	}
	p := NewL2Provider(oracle, headers[3].Hash(), 3)

	got, err := p.HeaderByNumber(1)
	if err != nil {
		t.Fatalf("HeaderByNumber: %v", err)
	}
	if got.Hash() != headers[1].Hash() {
		t.Fatalf("got header %d want header 1", got.Number.Uint64())
	}
}

func TestAgreedSafeHeadReadsBytes96To128(t *testing.T) {
	enc := make([]byte, 128)
	want := common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000001")
	copy(enc[96:128], want[:])

	got, err := AgreedSafeHead(enc)
	if err != nil {
		t.Fatalf("AgreedSafeHead: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestAgreedSafeHeadRejectsShortEncoding(t *testing.T) {
	if _, err := AgreedSafeHead(make([]byte, 64)); err == nil {
		t.Fatalf("expected error for short agreed pre-state encoding")
	}
}

func TestSystemConfigByNumberEchoesInput(t *testing.T) {
	oracle := newStubOracle()
	p := NewL2Provider(oracle, common.Hash{}, 0)
	want := rollup.SystemConfig{
		BatcherAddr:  common.HexToAddress("0x1234"),
		GasLimit:     30_000_000,
		EIP1559Denom: 250,
	}
	got, err := p.SystemConfigByNumber(42, want)
	if err != nil {
		t.Fatalf("SystemConfigByNumber: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}
