// Package orderedlist implements the Ordered-List Walker (spec §4.5): it
// reconstructs a derivable list (transactions, receipts) from the root hash
// of a trie whose keys are RLP(index) and whose values are the list items,
// lazily revealing nodes via the MPT engine's provider and patching the
// well-known 0x80-key rotation quirk (index 0's RLP key is the single byte
// 0x80, which sorts after 0x01..0x7f in nibble order, so an in-order leaf
// walk yields it after index 127, last for lists of up to 128 items; it
// must be rotated to the front).
//
// Grounded on the MPT Engine (internal/mpt) for node materialisation, and
// on the real op-program prefetcher's storeTrieNodes/mpt.WriteTrie pattern
// (_examples/other_examples/17e0b444_..._prefetcher.go.go) for how
// derivable lists are built and walked in the corpus.
package orderedlist

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/faultproof/opcore/internal/mpt"
)

// Walk reconstructs, in index order, the items of a derivable list rooted
// at root. provider resolves blinded nodes on demand.
func Walk(root common.Hash, provider mpt.NodeProvider) ([][]byte, error) {
	if root == (common.Hash{}) {
		return nil, nil
	}
	engine := mpt.Open(root, provider)

	leaves, err := collectLeaves(engine)
	if err != nil {
		return nil, err
	}

	// The first item's RLP(0) key is the single byte 0x80, which — in
	// nibble (hex) order — sorts after RLP(1)=0x01 .. RLP(0x7f)=0x7f and
	// before RLP(128)=0x8180 onward, so it is last only for lists of up to
	// 128 items. Find it and rotate it to the front so the result is in true
	// index order.
	for i := 1; i < len(leaves); i++ {
		if l := leaves[i]; len(l.key) == 1 && l.key[0] == 0x80 {
			rotated := make([]leaf, 0, len(leaves))
			rotated = append(rotated, l)
			rotated = append(rotated, leaves[:i]...)
			rotated = append(rotated, leaves[i+1:]...)
			leaves = rotated
			break
		}
	}

	items := make([][]byte, len(leaves))
	for i, l := range leaves {
		items[i] = l.value
	}
	return items, nil
}

type leaf struct {
	key   []byte
	value []byte
}

// collectLeaves flattens all leaves of the trie in the order they appear
// when walking branch slots 0..15 (byte/nibble order), materialising
// blinded nodes in place via the engine's provider as it goes. Walking by
// **mpt.Node (a pointer to the slot holding the node, not the node itself)
// mirrors how Engine.Open/Insert descend the tree, so a Blinded node is
// always resolved to the real node occupying that exact slot rather than
// to the trie's root.
func collectLeaves(e *mpt.Engine) ([]leaf, error) {
	var out []leaf
	var walk func(np **mpt.Node, prefix []byte) error
	walk = func(np **mpt.Node, prefix []byte) error {
		if np == nil || *np == nil {
			return nil
		}
		if err := e.Materialise(np); err != nil {
			return err
		}
		n := *np
		switch n.Type {
		case mpt.NodeEmpty:
			return nil
		case mpt.NodeLeaf:
			full := append(append([]byte(nil), prefix...), n.Key...)
			out = append(out, leaf{key: nibblesToBytes(full), value: n.Value})
			return nil
		case mpt.NodeExtension:
			return walk(&n.Children[0], append(append([]byte(nil), prefix...), n.Key...))
		case mpt.NodeBranch:
			if n.Value != nil {
				out = append(out, leaf{key: nibblesToBytes(prefix), value: n.Value})
			}
			for i := 0; i < 16; i++ {
				if err := walk(&n.Children[i], append(append([]byte(nil), prefix...), byte(i))); err != nil {
					return err
				}
			}
			return nil
		}
		return nil
	}
	if err := walk(e.RootPtr(), nil); err != nil {
		return nil, err
	}
	return out, nil
}

func nibblesToBytes(nibbles []byte) []byte {
	if len(nibbles)%2 != 0 {
		nibbles = append(nibbles, 0)
	}
	out := make([]byte, len(nibbles)/2)
	for i := 0; i < len(out); i++ {
		out[i] = nibbles[i*2]<<4 | nibbles[i*2+1]
	}
	return out
}

// IndexKey computes the RLP(index) trie key for list position i, matching
// the canonical derivable-list encoding (transactions/receipts tries).
func IndexKey(i uint64) []byte {
	enc, _ := rlp.EncodeToBytes(i)
	return enc
}
