package mpt

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// NodeProvider resolves a Blinded node's hash to its RLP-encoded bytes,
// per spec §4.3 ("Node fetch: given a 32-byte keccak256 hash, return a
// decoded trie node. Emits the trie-node hint before its first fetch.").
type NodeProvider interface {
	TrieNode(hash common.Hash) ([]byte, error)
}

// Engine is the root handle for one trie: the root node plus the provider
// used to materialise Blinded children lazily.
type Engine struct {
	root     *Node
	provider NodeProvider
}

// Open constructs an Engine rooted at a (possibly blinded) commitment.
func Open(root common.Hash, provider NodeProvider) *Engine {
	var r *Node
	if root == (common.Hash{}) {
		r = EmptyNode()
	} else {
		r = BlindedNode(root)
	}
	return &Engine{root: r, provider: provider}
}

func bytesToNibbles(key []byte) []byte {
	nibbles := make([]byte, len(key)*2)
	for i, b := range key {
		nibbles[i*2] = b >> 4
		nibbles[i*2+1] = b & 0x0f
	}
	return nibbles
}

// materialise resolves a Blinded node into its real representation via the
// provider, replacing *np in place so ancestors keep pointing at the same
// slot.
func (e *Engine) materialise(np **Node) error {
	n := *np
	if n == nil || n.Type != NodeBlinded {
		return nil
	}
	enc, err := e.provider.TrieNode(n.BlindedHash)
	if err != nil {
		return fmt.Errorf("mpt: fetch node %s: %w", n.BlindedHash, err)
	}
	decoded, err := decodeNode(enc)
	if err != nil {
		return fmt.Errorf("mpt: decode node %s: %w", n.BlindedHash, err)
	}
	decoded.encoded = enc
	decoded.dirty = false
	*np = decoded
	return nil
}

// decodeNode parses the RLP encoding of a trie node back into a Node,
// leaving any referenced children Blinded (or inlined, if the reference
// was shorter than 32 bytes and so was embedded directly).
func decodeNode(enc []byte) (*Node, error) {
	var raw []rlp.RawValue
	if err := rlp.DecodeBytes(enc, &raw); err != nil {
		return nil, err
	}
	switch len(raw) {
	case 2:
		var pathEnc []byte
		if err := rlp.DecodeBytes(raw[0], &pathEnc); err != nil {
			return nil, err
		}
		nibbles, isLeaf := compactDecode(pathEnc)
		if isLeaf {
			var value []byte
			if err := rlp.DecodeBytes(raw[1], &value); err != nil {
				return nil, err
			}
			n := LeafNode(nibbles, value)
			n.dirty = false
			return n, nil
		}
		child, err := childFromReference(raw[1])
		if err != nil {
			return nil, err
		}
		n := ExtensionNode(nibbles, child)
		n.dirty = false
		return n, nil
	case 17:
		n := BranchNode()
		for i := 0; i < 16; i++ {
			child, err := childFromReference(raw[i])
			if err != nil {
				return nil, err
			}
			n.Children[i] = child
		}
		var value []byte
		if err := rlp.DecodeBytes(raw[16], &value); err == nil && len(value) > 0 {
			n.Value = value
		}
		n.dirty = false
		return n, nil
	default:
		return nil, fmt.Errorf("mpt: unexpected node arity %d", len(raw))
	}
}

// childFromReference turns an encoded child reference (either an inlined
// node encoding or a 32-byte hash) into a Node: Blinded for a hash
// reference, materialised directly for an inlined one.
func childFromReference(ref rlp.RawValue) (*Node, error) {
	if len(ref) == 0 || (len(ref) == 1 && ref[0] == 0x80) {
		return EmptyNode(), nil
	}
	var asHash []byte
	if err := rlp.DecodeBytes(ref, &asHash); err == nil && len(asHash) == 32 {
		return BlindedNode(common.BytesToHash(asHash)), nil
	}
	return decodeNode(ref)
}

// RootPtr exposes the address of the engine's root-node slot, so a caller
// that needs to walk the tree structurally itself (e.g. the ordered-list
// walker) can materialise nodes in place the same way Open/Insert do,
// rather than only being able to resolve a Blinded node by re-deriving a
// full leaf key.
func (e *Engine) RootPtr() **Node { return &e.root }

// Materialise resolves a Blinded node at np in place, fetching it through
// the engine's provider if needed. It is the exported counterpart of
// materialise, for callers that hold a pointer into the tree (e.g. a
// Children slot) rather than going through Open/Insert.
func (e *Engine) Materialise(np **Node) error { return e.materialise(np) }

// Open walks the trie for path, materialising Blinded nodes as needed, and
// returns the leaf value or ErrNotFound.
var ErrNotFound = fmt.Errorf("mpt: path not found")

func (e *Engine) Open(key []byte) ([]byte, error) {
	nibbles := bytesToNibbles(key)
	np := &e.root
	for {
		if err := e.materialise(np); err != nil {
			return nil, err
		}
		n := *np
		switch n.Type {
		case NodeEmpty:
			return nil, ErrNotFound
		case NodeLeaf:
			if bytes.Equal(n.Key, nibbles) {
				return n.Value, nil
			}
			return nil, ErrNotFound
		case NodeExtension:
			if len(nibbles) < len(n.Key) || !bytes.Equal(nibbles[:len(n.Key)], n.Key) {
				return nil, ErrNotFound
			}
			nibbles = nibbles[len(n.Key):]
			np = &n.Children[0]
		case NodeBranch:
			if len(nibbles) == 0 {
				if n.Value == nil {
					return nil, ErrNotFound
				}
				return n.Value, nil
			}
			idx := nibbles[0]
			nibbles = nibbles[1:]
			np = &n.Children[idx]
		default:
			return nil, fmt.Errorf("mpt: unexpected node type during open: %d", n.Type)
		}
	}
}

// Insert writes value at key, creating intermediate Extension/Branch nodes
// as needed and marking every node on the path dirty.
func (e *Engine) Insert(key, value []byte) error {
	nibbles := bytesToNibbles(key)
	newRoot, err := e.insert(e.root, nibbles, value)
	if err != nil {
		return err
	}
	e.root = newRoot
	return nil
}

func (e *Engine) insert(n *Node, nibbles, value []byte) (*Node, error) {
	if n == nil || n.Type == NodeEmpty {
		return LeafNode(nibbles, value), nil
	}
	if n.Type == NodeBlinded {
		np := n
		if err := e.materialise(&np); err != nil {
			return nil, err
		}
		n = np
	}

	switch n.Type {
	case NodeLeaf:
		if bytes.Equal(n.Key, nibbles) {
			if bytes.Equal(n.Value, value) {
				return n, nil // no-op insert, per invariant (iii)
			}
			return LeafNode(nibbles, value), nil
		}
		return e.splitLeafOrExtension(n.Key, n.Value, true, nil, nibbles, value)
	case NodeExtension:
		prefixLen := commonPrefixLen(n.Key, nibbles)
		if prefixLen == len(n.Key) {
			child, err := e.insert(n.Children[0], nibbles[prefixLen:], value)
			if err != nil {
				return nil, err
			}
			out := ExtensionNode(n.Key, child)
			return out, nil
		}
		return e.splitLeafOrExtension(n.Key, nil, false, n.Children[0], nibbles, value)
	case NodeBranch:
		clone := n.Clone()
		clone.markDirty()
		if len(nibbles) == 0 {
			clone.Value = append([]byte(nil), value...)
			return clone, nil
		}
		idx := nibbles[0]
		child, err := e.insert(clone.Children[idx], nibbles[1:], value)
		if err != nil {
			return nil, err
		}
		clone.Children[idx] = child
		return clone, nil
	default:
		return nil, fmt.Errorf("mpt: unexpected node type during insert: %d", n.Type)
	}
}

// splitLeafOrExtension handles the divergence of an existing leaf/extension
// key from a newly inserted path by building the minimal branch (plus any
// shared-prefix extension) needed to hold both, matching the compaction
// rules from the teacher's compactBranch/compactExtension helpers.
// existingChild is the subtree the existing extension pointed to (nil for
// the leaf case, where there is no child to preserve); it is re-homed under
// the new branch rather than discarded.
func (e *Engine) splitLeafOrExtension(existingKey, existingValue []byte, existingIsLeaf bool, existingChild *Node, newNibbles, newValue []byte) (*Node, error) {
	prefixLen := commonPrefixLen(existingKey, newNibbles)
	branch := BranchNode()

	placeExisting := func(b *Node) error {
		rest := existingKey[prefixLen:]
		if len(rest) == 0 {
			if existingIsLeaf {
				b.Value = existingValue
			}
			return nil
		}
		idx := rest[0]
		suffix := rest[1:]
		switch {
		case existingIsLeaf:
			b.Children[idx] = LeafNode(suffix, existingValue)
		case len(suffix) == 0:
			// The extension's key is fully consumed by the branch slot;
			// its child sits directly in that slot, no extension needed.
			b.Children[idx] = existingChild
		default:
			b.Children[idx] = ExtensionNode(suffix, existingChild)
		}
		return nil
	}
	if err := placeExisting(branch); err != nil {
		return nil, err
	}

	restNew := newNibbles[prefixLen:]
	if len(restNew) == 0 {
		branch.Value = append([]byte(nil), newValue...)
	} else {
		idx := restNew[0]
		branch.Children[idx] = LeafNode(restNew[1:], newValue)
	}

	if prefixLen == 0 {
		return branch, nil
	}
	return ExtensionNode(existingKey[:prefixLen], branch), nil
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Blind recursively re-encodes dirty subtrees and replaces any subtree
// whose encoding is 32 bytes or longer with a Blinded(hash) node, per
// §4.4. It is idempotent on a clean trie (invariant (ii)).
func (e *Engine) Blind() (common.Hash, error) {
	newRoot, _, hash, err := e.blind(e.root)
	if err != nil {
		return common.Hash{}, err
	}
	e.root = newRoot
	return hash, nil
}

func (e *Engine) blind(n *Node) (*Node, []byte, common.Hash, error) {
	if n == nil || n.Type == NodeEmpty {
		return EmptyNode(), []byte{0x80}, common.Hash{}, nil
	}
	if n.Type == NodeBlinded {
		return n, nil, n.BlindedHash, nil
	}
	if !n.dirty && n.encoded != nil {
		h := n.hash(n.encoded)
		if len(n.encoded) >= 32 {
			return BlindedNode(h), n.encoded, h, nil
		}
		return n, n.encoded, h, nil
	}

	switch n.Type {
	case NodeExtension:
		child, _, _, err := e.blind(n.Children[0])
		if err != nil {
			return nil, nil, common.Hash{}, err
		}
		n.Children[0] = child
	case NodeBranch:
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			child, _, _, err := e.blind(n.Children[i])
			if err != nil {
				return nil, nil, common.Hash{}, err
			}
			n.Children[i] = child
		}
	}

	enc, hash, err := e.encode(n)
	if err != nil {
		return nil, nil, common.Hash{}, err
	}
	if len(enc) >= 32 {
		return BlindedNode(hash), enc, hash, nil
	}
	return n, enc, hash, nil
}

// BlindedCommitment returns the 32-byte root commitment after blinding,
// per §4.4's blinded_commitment().
func (e *Engine) BlindedCommitment() (common.Hash, error) {
	return e.Blind()
}

// Root exposes the current in-memory root node, e.g. for tests asserting
// canonical structure (invariant (i): no redundant extension-of-extension).
func (e *Engine) Root() *Node { return e.root }
