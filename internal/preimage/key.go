// Package preimage implements the fault-proof preimage/hint channel: the
// fixed-framing wire protocol described in spec §4.1/§6, the typed key sum
// type, and the LRU caching oracle that sits in front of it (§4.2).
//
// Grounded on node/cannon/preimage_server.go (the host-side server this
// client talks to) and the real op-program prefetcher
// (_examples/other_examples/17e0b444_..._prefetcher.go.go) for hint-key
// conventions; the key type tag values match both.
package preimage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyType is the high byte of a 32-byte preimage key.
type KeyType byte

const (
	LocalKeyType         KeyType = 1
	Keccak256KeyType     KeyType = 2
	GlobalGenericKeyType KeyType = 3
	Sha256KeyType        KeyType = 4
	BlobKeyType          KeyType = 5
	PrecompileKeyType    KeyType = 6
)

// Key is the typed sum-type view of a preimage key: a kind tag plus
// type-specific content. It is serialised to the 32-byte wire form only at
// the channel boundary, per the Design Notes' "preimage key as sum type"
// strategy.
type Key struct {
	Kind    KeyType
	Content [31]byte
}

// PreimageKey renders the typed key to its 32-byte wire form: high byte is
// the type tag, the low 31 bytes are the content, never mutated
// independently of each other.
func (k Key) PreimageKey() (out [32]byte) {
	out[0] = byte(k.Kind)
	copy(out[1:], k.Content[:])
	return out
}

func (k Key) String() string {
	raw := k.PreimageKey()
	return fmt.Sprintf("%x", raw[:8])
}

// DecodeKey splits a raw 32-byte wire key back into its typed form.
func DecodeKey(raw [32]byte) Key {
	var k Key
	k.Kind = KeyType(raw[0])
	copy(k.Content[:], raw[1:])
	return k
}

// LocalKey builds a Local-type key from a small bootstrap identifier (§6).
func LocalKey(ident uint64) Key {
	var content [31]byte
	binary.BigEndian.PutUint64(content[23:], ident)
	return Key{Kind: LocalKeyType, Content: content}
}

// Keccak256Key builds a Keccak256-type key from a 32-byte digest; the type
// byte is never included in the low 31 bytes, so only the trailing 31 bytes
// of the digest are kept (the invariant in spec §8: the low 31 bytes of the
// rendered key equal x[1..]).
func Keccak256Key(digest common.Hash) Key {
	var content [31]byte
	copy(content[:], digest[1:])
	return Key{Kind: Keccak256KeyType, Content: content}
}

// Keccak256PreimageKey hashes data and returns its wire-form preimage key.
func Keccak256PreimageKey(data []byte) [32]byte {
	return Keccak256Key(crypto.Keccak256Hash(data)).PreimageKey()
}

// Sha256Key builds a Sha256-type key, used for blob KZG commitments.
func Sha256Key(digest common.Hash) Key {
	var content [31]byte
	copy(content[:], digest[1:])
	return Key{Kind: Sha256KeyType, Content: content}
}

// BlobKey builds a Blob-type key from keccak256(kzg_commitment || z_index).
func BlobKey(digest common.Hash) Key {
	var content [31]byte
	copy(content[:], digest[1:])
	return Key{Kind: BlobKeyType, Content: content}
}

// PrecompileKey builds a Precompile-type key from
// keccak256(precompile_addr || input).
func PrecompileKey(digest common.Hash) Key {
	var content [31]byte
	copy(content[:], digest[1:])
	return Key{Kind: PrecompileKeyType, Content: content}
}

// GlobalGenericKey builds a GlobalGeneric-type key from an arbitrary
// 31-byte content slice, used by callers that need a key space outside the
// Local/Keccak256/Blob/Precompile taxonomy.
func GlobalGenericKey(content [31]byte) Key {
	return Key{Kind: GlobalGenericKeyType, Content: content}
}
