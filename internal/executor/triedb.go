package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/faultproof/opcore/internal/mpt"
)

// TrieAccount is the RLP shape of an account leaf in the global state
// trie: nonce, balance, storage root, code hash — the standard Ethereum
// account encoding.
type TrieAccount struct {
	Nonce    uint64
	Balance  *big.Int
	Root     common.Hash
	CodeHash []byte
}

// AccountChange / StorageChange form the "bundle" of diffs the executor
// accumulates while applying a block's transactions, folded into the trie
// once per block by StateRoot.
type AccountChange struct {
	Address common.Address
	Nonce    uint64
	Balance  *big.Int
	CodeHash []byte
}

type StorageChange struct {
	Address common.Address
	Slot    common.Hash
	Value   common.Hash
}

type Bundle struct {
	Accounts []AccountChange
	Storage  []StorageChange
}

// CodeProvider resolves a keccak256 code hash to raw bytecode via the
// preimage oracle, emitting a code hint before the first fetch.
type CodeProvider interface {
	CodeByHash(hash common.Hash) ([]byte, error)
}

// HeaderProvider resolves ancestor block hashes for the BLOCKHASH opcode,
// walking back from the parent up to 256 blocks.
type HeaderProvider interface {
	HeaderByHash(hash common.Hash) (*types.Header, error)
}

// TrieDB is the stateless-execution analogue of revm::Database (§4.9): it
// opens the global state trie lazily via the MPT Engine, decodes
// TrieAccount leaves on demand, and tracks each account's storage root in
// a side map so storage tries can be opened independently.
type TrieDB struct {
	state        *mpt.Engine
	provider     mpt.NodeProvider
	storage      map[common.Address]*mpt.Engine
	code         CodeProvider
	headers      HeaderProvider
	parent       common.Hash
	storageRoots map[common.Address]common.Hash
}

func NewTrieDB(stateRoot common.Hash, provider mpt.NodeProvider, code CodeProvider, headers HeaderProvider, parent common.Hash) *TrieDB {
	return &TrieDB{
		state:        mpt.Open(stateRoot, provider),
		provider:     provider,
		storage:      make(map[common.Address]*mpt.Engine),
		code:         code,
		headers:      headers,
		parent:       parent,
		storageRoots: make(map[common.Address]common.Hash),
	}
}

// Basic opens the global state trie at keccak256(addr), decodes a
// TrieAccount, and records the account's storage root for later Storage
// calls.
func (db *TrieDB) Basic(addr common.Address) (*TrieAccount, error) {
	key := crypto.Keccak256(addr[:])
	raw, err := db.state.Open(key)
	if err != nil {
		if err == mpt.ErrNotFound {
			return nil, nil // non-existent account: valid, not an error
		}
		return nil, fmt.Errorf("%w: open account %s: %v", ErrStateRoot, addr, err)
	}
	var acct TrieAccount
	if err := rlp.DecodeBytes(raw, &acct); err != nil {
		return nil, fmt.Errorf("%w: decode account %s: %v", ErrStateRoot, addr, err)
	}
	db.storageRoots[addr] = acct.Root
	return &acct, nil
}

// Storage opens the account's storage trie at keccak256(slot).
func (db *TrieDB) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	engine, ok := db.storage[addr]
	if !ok {
		root := db.storageRoots[addr]
		engine = mpt.Open(root, db.provider)
		db.storage[addr] = engine
	}
	key := crypto.Keccak256(slot[:])
	raw, err := engine.Open(key)
	if err != nil {
		if err == mpt.ErrNotFound {
			return common.Hash{}, nil
		}
		return common.Hash{}, fmt.Errorf("%w: open storage %s/%s: %v", ErrStateRoot, addr, slot, err)
	}
	var value common.Hash
	if decErr := rlp.DecodeBytes(raw, &value); decErr == nil {
		return value, nil
	}
	copy(value[32-len(raw):], raw)
	return value, nil
}

func (db *TrieDB) CodeByHash(hash common.Hash) ([]byte, error) {
	return db.code.CodeByHash(hash)
}

// BlockHash walks back from the parent block hash via the header provider
// up to 256 blocks, per §4.9.
func (db *TrieDB) BlockHash(number uint64) (common.Hash, error) {
	h, err := db.headers.HeaderByHash(db.parent)
	if err != nil {
		return common.Hash{}, err
	}
	for i := 0; i < 256 && h.Number.Uint64() > number; i++ {
		h, err = db.headers.HeaderByHash(h.ParentHash)
		if err != nil {
			return common.Hash{}, err
		}
	}
	if h.Number.Uint64() != number {
		return common.Hash{}, fmt.Errorf("executor: block hash for %d unavailable (>256 blocks back)", number)
	}
	return h.Hash(), nil
}

// StateRoot folds the bundle's account and storage diffs into the trie,
// re-blinding storage subtries first, writes updated TrieAccount RLP back
// into the state trie, re-blinds, and returns the new root, per §4.9.
func (db *TrieDB) StateRoot(bundle Bundle) (common.Hash, error) {
	byAddr := make(map[common.Address][]StorageChange)
	for _, sc := range bundle.Storage {
		byAddr[sc.Address] = append(byAddr[sc.Address], sc)
	}
	newStorageRoot := make(map[common.Address]common.Hash)
	for addr, changes := range byAddr {
		engine, ok := db.storage[addr]
		if !ok {
			engine = mpt.Open(db.storageRoots[addr], db.provider)
			db.storage[addr] = engine
		}
		for _, c := range changes {
			key := crypto.Keccak256(c.Slot[:])
			enc, err := rlp.EncodeToBytes(c.Value[:])
			if err != nil {
				return common.Hash{}, fmt.Errorf("%w: encode storage value: %v", ErrStateRoot, err)
			}
			if err := engine.Insert(key, enc); err != nil {
				return common.Hash{}, fmt.Errorf("%w: insert storage %s/%s: %v", ErrStateRoot, addr, c.Slot, err)
			}
		}
		root, err := engine.Blind()
		if err != nil {
			return common.Hash{}, fmt.Errorf("%w: blind storage trie for %s: %v", ErrStateRoot, addr, err)
		}
		newStorageRoot[addr] = root
	}

	for _, ac := range bundle.Accounts {
		root, has := newStorageRoot[ac.Address]
		if !has {
			root = db.storageRoots[ac.Address]
		}
		acct := TrieAccount{Nonce: ac.Nonce, Balance: ac.Balance, Root: root, CodeHash: ac.CodeHash}
		if acct.Balance == nil {
			acct.Balance = big.NewInt(0)
		}
		enc, err := rlp.EncodeToBytes(acct)
		if err != nil {
			return common.Hash{}, fmt.Errorf("%w: encode account %s: %v", ErrStateRoot, ac.Address, err)
		}
		key := crypto.Keccak256(ac.Address[:])
		if err := db.state.Insert(key, enc); err != nil {
			return common.Hash{}, fmt.Errorf("%w: insert account %s: %v", ErrStateRoot, ac.Address, err)
		}
		db.storageRoots[ac.Address] = root
	}

	root, err := db.state.Blind()
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: blind state trie: %v", ErrStateRoot, err)
	}
	return root, nil
}

// L2ToL1StorageRoot returns the storage root of the L2ToL1MessagePasser
// predeploy, used in output-root computation (§4.9 step 7).
func (db *TrieDB) L2ToL1StorageRoot(messagePasser common.Address) (common.Hash, error) {
	acct, err := db.Basic(messagePasser)
	if err != nil {
		return common.Hash{}, err
	}
	if acct == nil {
		return common.Hash{}, nil
	}
	return acct.Root, nil
}
