package derive

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/faultproof/opcore/internal/chainprovider"
	"github.com/faultproof/opcore/internal/rollup"
)

// DepositEventSignature is the topic0 of the deposit contract's
// TransactionDeposited event that the Attributes Queue scans for.
var DepositEventSignature = crypto.Keccak256Hash([]byte("TransactionDeposited(address,address,uint256,bytes)"))

// AttributesQueue is stage 8: consumes one SingleBatch per L2 block,
// asserts parent/timestamp chaining, derives deposit transactions from the
// origin's receipts, prepends them, sets no_tx_pool, and emits
// OpAttributesWithParent, per §4.8 stage 8.
type AttributesQueue struct {
	cfg *rollup.Config
	l1  *chainprovider.L1Provider
}

func NewAttributesQueue(cfg *rollup.Config, l1 *chainprovider.L1Provider) *AttributesQueue {
	return &AttributesQueue{cfg: cfg, l1: l1}
}

func (q *AttributesQueue) Derive(batch SingleBatch, parent chainprovider.L2BlockInfo, origin common.Hash, gasLimit uint64, prevRandao common.Hash) (OpAttributesWithParent, error) {
	if batch.ParentHash != parent.Hash {
		return OpAttributesWithParent{}, fmt.Errorf("%w: %s", ErrReset, ResetBadParent)
	}
	if batch.Timestamp != parent.Timestamp+q.cfg.BlockTime {
		return OpAttributesWithParent{}, fmt.Errorf("%w: %s", ErrReset, ResetBadTimestamp)
	}

	deposits, err := q.depositTransactions(origin)
	if err != nil {
		return OpAttributesWithParent{}, err
	}

	txs := make([][]byte, 0, len(deposits)+len(batch.Transactions))
	txs = append(txs, deposits...)
	txs = append(txs, batch.Transactions...)

	return OpAttributesWithParent{
		Parent:       parent,
		Timestamp:    batch.Timestamp,
		L1Origin:     origin,
		Transactions: txs,
		NoTxPool:     true,
		GasLimit:     gasLimit,
		PrevRandao:   prevRandao,
	}, nil
}

// depositTransactions scans the origin's receipts for the deposit event at
// the deposit contract address and builds the corresponding 2718 deposit
// transaction envelopes.
func (q *AttributesQueue) depositTransactions(origin common.Hash) ([][]byte, error) {
	receipts, err := q.l1.ReceiptsByHash(origin)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch origin receipts: %v", ErrTemporary, err)
	}
	var out [][]byte
	for _, r := range receipts {
		for _, l := range r.Logs {
			if l.Address != q.cfg.DepositContractAddress || len(l.Topics) == 0 || l.Topics[0] != DepositEventSignature {
				continue
			}
			tx, err := decodeDepositLog(l)
			if err != nil {
				return nil, fmt.Errorf("%w: decode deposit log: %v", ErrCritical, err)
			}
			enc, err := tx.MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("%w: encode deposit tx: %v", ErrCritical, err)
			}
			out = append(out, enc)
		}
	}
	return out, nil
}

// decodeDepositLog builds a DepositTx from a TransactionDeposited event
// log. The event's data layout is `from:address || to:address ||
// mint:u256 || value:u256 || gasLimit:u64 || isCreation:bool ||
// data:bytes`; we decode the fixed-size prefix the executor needs and
// leave calldata as the remainder.
func decodeDepositLog(l *types.Log) (*types.Transaction, error) {
	if len(l.Topics) < 3 || len(l.Data) < 64 {
		return nil, fmt.Errorf("derive: malformed deposit log")
	}
	from := common.BytesToAddress(l.Topics[1][12:])
	to := common.BytesToAddress(l.Topics[2][12:])
	sourceHash := common.BytesToHash(l.Data[:32])
	depositTx := &types.DepositTx{
		SourceHash: sourceHash,
		From:       from,
		To:         &to,
		Mint:       nil,
		Value:      nil,
		Gas:        0,
		IsSystemTransaction: false,
		Data:       l.Data[64:],
	}
	return types.NewTx(depositTx), nil
}
