package executor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

// accountState is the stateDB adapter's in-memory view of one account,
// seeded once from TrieDB.Basic and overlaid with whatever the EVM mutates
// for the rest of the block.
type accountState struct {
	nonce          uint64
	balance        *big.Int
	code           []byte
	codeHash       common.Hash
	storage        map[common.Hash]common.Hash
	dirtyStorage   map[common.Hash]common.Hash
	selfDestructed bool
	created        bool
	touched        bool
}

func newAccountState() *accountState {
	return &accountState{
		balance:      new(big.Int),
		codeHash:     types.EmptyCodeHash,
		storage:      make(map[common.Hash]common.Hash),
		dirtyStorage: make(map[common.Hash]common.Hash),
	}
}

func cloneAccountState(a *accountState) *accountState {
	c := &accountState{
		nonce:          a.nonce,
		balance:        new(big.Int).Set(a.balance),
		codeHash:       a.codeHash,
		selfDestructed: a.selfDestructed,
		created:        a.created,
		touched:        a.touched,
		storage:        make(map[common.Hash]common.Hash, len(a.storage)),
		dirtyStorage:   make(map[common.Hash]common.Hash, len(a.dirtyStorage)),
	}
	if a.code != nil {
		c.code = append([]byte(nil), a.code...)
	}
	for k, v := range a.storage {
		c.storage[k] = v
	}
	for k, v := range a.dirtyStorage {
		c.dirtyStorage[k] = v
	}
	return c
}

// stateSnapshot is the point-in-time copy Snapshot/RevertToSnapshot work
// against; cloning the whole overlay is simpler to get right than a real
// journal and the account set per block is small.
type stateSnapshot struct {
	accounts    map[common.Address]*accountState
	transient   map[common.Address]map[common.Hash]common.Hash
	refund      uint64
	logs        []*types.Log
	accessAddrs map[common.Address]bool
	accessSlots map[common.Address]map[common.Hash]bool
}

// stateDB adapts TrieDB to core/vm.StateDB, giving the EVM a live,
// snapshot-able account/storage view while leaving all trie I/O to TrieDB.
// Only accounts actually touched by a transaction are realised in memory;
// finalize() folds the overlay back into a Bundle for TrieDB.StateRoot once
// per block, matching the teacher's single-commit-per-block result shape.
type stateDB struct {
	db          *TrieDB
	accounts    map[common.Address]*accountState
	transient   map[common.Address]map[common.Hash]common.Hash
	refund      uint64
	logs        []*types.Log
	accessAddrs map[common.Address]bool
	accessSlots map[common.Address]map[common.Hash]bool
	snapshots   []stateSnapshot
	err         error
}

func newStateDB(db *TrieDB) *stateDB {
	return &stateDB{
		db:          db,
		accounts:    make(map[common.Address]*accountState),
		transient:   make(map[common.Address]map[common.Hash]common.Hash),
		accessAddrs: make(map[common.Address]bool),
		accessSlots: make(map[common.Address]map[common.Hash]bool),
	}
}

// Err reports the first TrieDB error observed while servicing a StateDB
// call, since vm.StateDB's own methods have no error return.
func (s *stateDB) Err() error { return s.err }

func (s *stateDB) get(addr common.Address) *accountState {
	if a, ok := s.accounts[addr]; ok {
		return a
	}
	a := newAccountState()
	acct, err := s.db.Basic(addr)
	if err != nil {
		s.err = err
	} else if acct != nil {
		a.nonce = acct.Nonce
		if acct.Balance != nil {
			a.balance = new(big.Int).Set(acct.Balance)
		}
		if len(acct.CodeHash) > 0 {
			a.codeHash = common.BytesToHash(acct.CodeHash)
		}
		a.touched = true
	}
	s.accounts[addr] = a
	return a
}

func (s *stateDB) CreateAccount(addr common.Address) {
	a := s.get(addr)
	a.touched = true
	a.created = true
}

func (s *stateDB) CreateContract(addr common.Address) {
	a := s.get(addr)
	a.created = true
}

func (s *stateDB) SubBalance(addr common.Address, amount *big.Int) {
	a := s.get(addr)
	a.balance = new(big.Int).Sub(a.balance, amount)
	a.touched = true
}

func (s *stateDB) AddBalance(addr common.Address, amount *big.Int) {
	a := s.get(addr)
	a.balance = new(big.Int).Add(a.balance, amount)
	a.touched = true
}

func (s *stateDB) GetBalance(addr common.Address) *big.Int {
	return s.get(addr).balance
}

func (s *stateDB) GetNonce(addr common.Address) uint64 {
	return s.get(addr).nonce
}

func (s *stateDB) SetNonce(addr common.Address, nonce uint64) {
	a := s.get(addr)
	a.nonce = nonce
	a.touched = true
}

func (s *stateDB) GetCodeHash(addr common.Address) common.Hash {
	return s.get(addr).codeHash
}

func (s *stateDB) GetCode(addr common.Address) []byte {
	a := s.get(addr)
	if a.code != nil {
		return a.code
	}
	if a.codeHash == (common.Hash{}) || a.codeHash == types.EmptyCodeHash {
		return nil
	}
	code, err := s.db.CodeByHash(a.codeHash)
	if err != nil {
		s.err = err
		return nil
	}
	a.code = code
	return code
}

func (s *stateDB) SetCode(addr common.Address, code []byte) {
	a := s.get(addr)
	a.code = code
	a.codeHash = crypto.Keccak256Hash(code)
	a.touched = true
}

func (s *stateDB) GetCodeSize(addr common.Address) int {
	return len(s.GetCode(addr))
}

func (s *stateDB) AddRefund(gas uint64)  { s.refund += gas }
func (s *stateDB) SubRefund(gas uint64) {
	if gas > s.refund {
		s.refund = 0
		return
	}
	s.refund -= gas
}
func (s *stateDB) GetRefund() uint64 { return s.refund }

func (s *stateDB) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	s.get(addr) // ensure TrieDB has resolved this account's storage root
	v, err := s.db.Storage(addr, key)
	if err != nil {
		s.err = err
		return common.Hash{}
	}
	return v
}

func (s *stateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	a := s.get(addr)
	if v, ok := a.dirtyStorage[key]; ok {
		return v
	}
	if v, ok := a.storage[key]; ok {
		return v
	}
	v := s.GetCommittedState(addr, key)
	a.storage[key] = v
	return v
}

func (s *stateDB) SetState(addr common.Address, key, value common.Hash) {
	a := s.get(addr)
	a.dirtyStorage[key] = value
}

func (s *stateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	m, ok := s.transient[addr]
	if !ok {
		return common.Hash{}
	}
	return m[key]
}

func (s *stateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	m, ok := s.transient[addr]
	if !ok {
		m = make(map[common.Hash]common.Hash)
		s.transient[addr] = m
	}
	m[key] = value
}

func (s *stateDB) SelfDestruct(addr common.Address) {
	a := s.get(addr)
	a.selfDestructed = true
	a.balance = new(big.Int)
}

func (s *stateDB) HasSelfDestructed(addr common.Address) bool {
	a, ok := s.accounts[addr]
	return ok && a.selfDestructed
}

// Selfdestruct6780 implements EIP-6780: self-destruct only takes effect
// when the account was also created earlier in the same transaction.
func (s *stateDB) Selfdestruct6780(addr common.Address) {
	a, ok := s.accounts[addr]
	if ok && a.created {
		a.selfDestructed = true
		a.balance = new(big.Int)
	}
}

func (s *stateDB) Exist(addr common.Address) bool {
	a := s.get(addr)
	return a.touched || a.created || a.balance.Sign() != 0 || a.nonce != 0 || len(a.code) != 0
}

func (s *stateDB) Empty(addr common.Address) bool {
	a := s.get(addr)
	return a.nonce == 0 && a.balance.Sign() == 0 &&
		(a.codeHash == common.Hash{} || a.codeHash == types.EmptyCodeHash)
}

func (s *stateDB) AddressInAccessList(addr common.Address) bool {
	return s.accessAddrs[addr]
}

func (s *stateDB) SlotInAccessList(addr common.Address, slot common.Hash) (addressOk, slotOk bool) {
	addressOk = s.accessAddrs[addr]
	if m, ok := s.accessSlots[addr]; ok {
		slotOk = m[slot]
	}
	return addressOk, slotOk
}

func (s *stateDB) AddAddressToAccessList(addr common.Address) {
	s.accessAddrs[addr] = true
}

func (s *stateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	s.accessAddrs[addr] = true
	m, ok := s.accessSlots[addr]
	if !ok {
		m = make(map[common.Hash]bool)
		s.accessSlots[addr] = m
	}
	m[slot] = true
}

// Prepare seeds the access list for one transaction per EIP-2929/2930/3651,
// matching the real EVM's warm/cold accounting.
func (s *stateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dst *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	s.accessAddrs = map[common.Address]bool{sender: true}
	s.accessSlots = make(map[common.Address]map[common.Hash]bool)
	for _, a := range s.accounts {
		a.created = false
	}
	for _, p := range precompiles {
		s.accessAddrs[p] = true
	}
	if dst != nil {
		s.accessAddrs[*dst] = true
	}
	if rules.IsShanghai {
		s.accessAddrs[coinbase] = true
	}
	for _, el := range txAccesses {
		s.accessAddrs[el.Address] = true
		m, ok := s.accessSlots[el.Address]
		if !ok {
			m = make(map[common.Hash]bool)
			s.accessSlots[el.Address] = m
		}
		for _, key := range el.StorageKeys {
			m[key] = true
		}
	}
}

func (s *stateDB) RevertToSnapshot(id int) {
	snap := s.snapshots[id]
	s.accounts = snap.accounts
	s.transient = snap.transient
	s.refund = snap.refund
	s.logs = snap.logs
	s.accessAddrs = snap.accessAddrs
	s.accessSlots = snap.accessSlots
	s.snapshots = s.snapshots[:id]
}

func (s *stateDB) Snapshot() int {
	accounts := make(map[common.Address]*accountState, len(s.accounts))
	for addr, a := range s.accounts {
		accounts[addr] = cloneAccountState(a)
	}
	transient := make(map[common.Address]map[common.Hash]common.Hash, len(s.transient))
	for addr, m := range s.transient {
		mm := make(map[common.Hash]common.Hash, len(m))
		for k, v := range m {
			mm[k] = v
		}
		transient[addr] = mm
	}
	accessAddrs := make(map[common.Address]bool, len(s.accessAddrs))
	for k, v := range s.accessAddrs {
		accessAddrs[k] = v
	}
	accessSlots := make(map[common.Address]map[common.Hash]bool, len(s.accessSlots))
	for addr, m := range s.accessSlots {
		mm := make(map[common.Hash]bool, len(m))
		for k, v := range m {
			mm[k] = v
		}
		accessSlots[addr] = mm
	}
	id := len(s.snapshots)
	s.snapshots = append(s.snapshots, stateSnapshot{
		accounts:    accounts,
		transient:   transient,
		refund:      s.refund,
		logs:        append([]*types.Log(nil), s.logs...),
		accessAddrs: accessAddrs,
		accessSlots: accessSlots,
	})
	return id
}

func (s *stateDB) AddLog(log *types.Log) {
	s.logs = append(s.logs, log)
}

func (s *stateDB) AddPreimage(hash common.Hash, preimage []byte) {}

// finalize drains every touched, non-self-destructed account into the
// Bundle TrieDB.StateRoot expects, per §4.9 step 6. Self-destructed
// accounts are dropped rather than zeroed, since the trie has no tombstone
// representation and a block that self-destructs an account within the
// scope of this executor never re-reads it afterwards.
func (s *stateDB) finalize() Bundle {
	var bundle Bundle
	for addr, a := range s.accounts {
		if a.selfDestructed {
			continue
		}
		if !a.touched && !a.created && a.balance.Sign() == 0 && a.nonce == 0 && len(a.code) == 0 {
			continue
		}
		bundle.Accounts = append(bundle.Accounts, AccountChange{
			Address:  addr,
			Nonce:    a.nonce,
			Balance:  new(big.Int).Set(a.balance),
			CodeHash: a.codeHash.Bytes(),
		})
		for slot, value := range a.dirtyStorage {
			bundle.Storage = append(bundle.Storage, StorageChange{Address: addr, Slot: slot, Value: value})
		}
	}
	return bundle
}
