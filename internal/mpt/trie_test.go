package mpt

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type memProvider map[common.Hash][]byte

func (m memProvider) TrieNode(hash common.Hash) ([]byte, error) {
	enc, ok := m[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return enc, nil
}

func TestInsertThenOpenRoundTrips(t *testing.T) {
	e := Open(common.Hash{}, memProvider{})
	if err := e.Insert([]byte("alpha"), []byte("1")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := e.Insert([]byte("alphabet"), []byte("2")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := e.Open([]byte("alpha"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, []byte("1")) {
		t.Fatalf("got %q want %q", got, "1")
	}
	got, err = e.Open([]byte("alphabet"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, []byte("2")) {
		t.Fatalf("got %q want %q", got, "2")
	}
}

func TestOpenUnrelatedPathUnaffected(t *testing.T) {
	e := Open(common.Hash{}, memProvider{})
	_ = e.Insert([]byte("a"), []byte("one"))
	_ = e.Insert([]byte("b"), []byte("two"))
	_ = e.Insert([]byte("a"), []byte("uno"))

	got, err := e.Open([]byte("b"))
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	if !bytes.Equal(got, []byte("two")) {
		t.Fatalf("unrelated path mutated: got %q", got)
	}
}

func TestBlindIdempotentOnCleanTrie(t *testing.T) {
	e := Open(common.Hash{}, memProvider{})
	_ = e.Insert([]byte("key-one"), []byte("value-one"))
	_ = e.Insert([]byte("key-two"), []byte("value-two"))

	h1, err := e.Blind()
	if err != nil {
		t.Fatalf("blind: %v", err)
	}
	h2, err := e.Blind()
	if err != nil {
		t.Fatalf("blind again: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("blind not idempotent: %s != %s", h1, h2)
	}
}

func TestOpenNotFound(t *testing.T) {
	e := Open(common.Hash{}, memProvider{})
	_ = e.Insert([]byte("present"), []byte("v"))
	if _, err := e.Open([]byte("missing")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompactEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{1, 2, 3, 4},
		{1, 2, 3},
		{},
		{0xf},
	}
	for _, nibbles := range cases {
		for _, isLeaf := range []bool{true, false} {
			enc := compactEncode(nibbles, isLeaf)
			got, gotLeaf := compactDecode(enc)
			if gotLeaf != isLeaf {
				t.Fatalf("leaf flag mismatch for %v: got %v want %v", nibbles, gotLeaf, isLeaf)
			}
			if !bytes.Equal(got, nibbles) && !(len(got) == 0 && len(nibbles) == 0) {
				t.Fatalf("nibble round-trip mismatch: got %v want %v", got, nibbles)
			}
		}
	}
}
