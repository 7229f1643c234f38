// Package mpt implements the MPT Engine (spec §4.4): lazy, oracle-backed
// Merkle-Patricia tries with Blinded/Leaf/Extension/Branch nodes, dirty
// tracking, and bottom-up re-blinding.
//
// Grounded on _examples/okx-xlayer-toolkit/demo/core/mpt/{node,trie}.go for
// overall shape (NodeType enum, nibble-path keys, branch/extension
// compaction on delete), generalised to add the Blinded variant and real
// RLP/keccak256 hashing via go-ethereum instead of the teacher's
// SHA256-based placeholder hash.
package mpt

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// NodeType is the tag of the TrieNode sum type in spec §3.
type NodeType uint8

const (
	NodeEmpty NodeType = iota
	NodeBlinded
	NodeLeaf
	NodeExtension
	NodeBranch
)

// Node is the in-memory representation of one trie node. Only the fields
// relevant to its Type are meaningful.
type Node struct {
	Type NodeType

	// Blinded
	BlindedHash common.Hash

	// Leaf / Extension: remaining path nibbles
	Key []byte

	// Leaf: stored value. Branch: optional value at this branch.
	Value []byte

	// Extension: single child at Children[0]. Branch: 16 children.
	Children [16]*Node

	dirty bool
	// encoded caches this node's RLP encoding once computed by blind(),
	// invalidated whenever dirty is set.
	encoded []byte
}

func EmptyNode() *Node { return &Node{Type: NodeEmpty} }

func BlindedNode(hash common.Hash) *Node {
	return &Node{Type: NodeBlinded, BlindedHash: hash}
}

func LeafNode(key, value []byte) *Node {
	return &Node{Type: NodeLeaf, Key: append([]byte(nil), key...), Value: append([]byte(nil), value...), dirty: true}
}

func ExtensionNode(key []byte, child *Node) *Node {
	n := &Node{Type: NodeExtension, Key: append([]byte(nil), key...), dirty: true}
	n.Children[0] = child
	return n
}

func BranchNode() *Node {
	return &Node{Type: NodeBranch, dirty: true}
}

// markDirty invalidates the cached encoding of n. Callers are responsible
// for propagating this up the path from root to the mutated node (spec
// invariant: "any operation that mutates a subtree marks all ancestors as
// dirty").
func (n *Node) markDirty() {
	n.dirty = true
	n.encoded = nil
}

// Clone performs a shallow structural copy (children slice copied, node
// pointers shared) sufficient for copy-on-write during insert/delete.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := *n
	clone.Key = append([]byte(nil), n.Key...)
	clone.Value = append([]byte(nil), n.Value...)
	return &clone
}

func nibbleLen(key []byte) int { return len(key) }

// compactEncode hex-prefix-encodes a nibble path the way the canonical
// Ethereum MPT does: the first nibble of the first byte carries
// (isLeaf<<1 | oddLen); an odd-length path's first real nibble shares that
// byte, an even-length path gets a padding nibble of zero.
func compactEncode(nibbles []byte, isLeaf bool) []byte {
	term := byte(0)
	if isLeaf {
		term = 2
	}
	odd := len(nibbles) % 2
	flag := term + byte(odd)
	var out []byte
	if odd == 1 {
		out = append(out, flag<<4|nibbles[0])
		nibbles = nibbles[1:]
	} else {
		out = append(out, flag<<4)
	}
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, nibbles[i]<<4|nibbles[i+1])
	}
	return out
}

// compactDecode reverses compactEncode, returning the nibble path and
// whether it terminates a leaf.
func compactDecode(enc []byte) (nibbles []byte, isLeaf bool) {
	if len(enc) == 0 {
		return nil, false
	}
	flag := enc[0] >> 4
	isLeaf = flag&2 != 0
	odd := flag&1 != 0
	if odd {
		nibbles = append(nibbles, enc[0]&0x0f)
	}
	for _, b := range enc[1:] {
		nibbles = append(nibbles, b>>4, b&0x0f)
	}
	return nibbles, isLeaf
}

// reference returns either the raw RLP encoding of the child (if it is
// shorter than 32 bytes, inlined per canonical trie rules) or its 32-byte
// hash, as an rlp.RawValue suitable for embedding in the parent's encoding.
func (e *Engine) reference(n *Node) (rlp.RawValue, error) {
	if n == nil || n.Type == NodeEmpty {
		return rlp.RawValue{0x80}, nil // RLP empty string
	}
	enc, _, err := e.encode(n)
	if err != nil {
		return nil, err
	}
	if len(enc) < 32 {
		return rlp.RawValue(enc), nil
	}
	h := n.hash(enc)
	hashEnc, err := rlp.EncodeToBytes(h[:])
	if err != nil {
		return nil, err
	}
	return rlp.RawValue(hashEnc), nil
}

func (n *Node) hash(encoding []byte) common.Hash {
	return crypto.Keccak256Hash(encoding)
}

// encode computes (and, for non-Blinded dirty nodes, caches) the RLP
// encoding of n. Blinded nodes are never encoded directly — callers must
// open() them first.
func (e *Engine) encode(n *Node) ([]byte, common.Hash, error) {
	if n == nil || n.Type == NodeEmpty {
		return []byte{0x80}, common.Hash{}, nil
	}
	if n.Type == NodeBlinded {
		return nil, n.BlindedHash, fmt.Errorf("mpt: cannot encode a blinded node directly, open() it first")
	}
	if !n.dirty && n.encoded != nil {
		return n.encoded, n.hash(n.encoded), nil
	}

	var enc []byte
	var err error
	switch n.Type {
	case NodeLeaf:
		enc, err = rlp.EncodeToBytes([][]byte{compactEncode(n.Key, true), n.Value})
	case NodeExtension:
		var childRef rlp.RawValue
		childRef, err = e.reference(n.Children[0])
		if err != nil {
			return nil, common.Hash{}, err
		}
		enc, err = rlp.EncodeToBytes([]interface{}{compactEncode(n.Key, false), childRef})
	case NodeBranch:
		items := make([]interface{}, 17)
		for i := 0; i < 16; i++ {
			ref, rerr := e.reference(n.Children[i])
			if rerr != nil {
				return nil, common.Hash{}, rerr
			}
			items[i] = ref
		}
		if n.Value != nil {
			items[16] = n.Value
		} else {
			items[16] = []byte{}
		}
		enc, err = rlp.EncodeToBytes(items)
	default:
		return nil, common.Hash{}, fmt.Errorf("mpt: unknown node type %d", n.Type)
	}
	if err != nil {
		return nil, common.Hash{}, err
	}
	n.encoded = enc
	n.dirty = false
	return enc, n.hash(enc), nil
}
