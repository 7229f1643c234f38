// Package driver implements the top-level single-shot loop (spec §4.10):
// produce payload, execute, advance cursor, handle reorg signals, until the
// target L2 block number is reached.
//
// Grounded on hakandemirdev-kroma's driver error-severity dispatch
// (Temporary/Reset/Critical routed through errors.Is against sentinels)
// and the real op-program prefetcher's hint-then-fetch flow
// (_examples/other_examples prefetcher.go.go), adapted from a live
// event-driven network loop to a single while-loop that runs once per
// program invocation and exits with a final (number, output_root,
// block_hash) triple instead of driving a long-lived p2p/RPC server.
package driver

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/faultproof/opcore/internal/chainprovider"
	"github.com/faultproof/opcore/internal/derive"
	"github.com/faultproof/opcore/internal/executor"
	"github.com/faultproof/opcore/internal/rollup"
)

// Cursor tracks the driver's progress: the current L2 safe head and the
// target block number the claim is about.
type Cursor struct {
	SafeHead   chainprovider.L2BlockInfo
	SafeHeader *types.Header
	Target     uint64
}

func (c *Cursor) Done() bool { return c.SafeHead.Number >= c.Target }

// Oracle is the subset of preimage.CachingOracle the driver needs directly,
// for flushing on reorg.
type Oracle interface {
	Flush()
}

// Result is the driver's terminal output per §4.10: "returning (number,
// output_root, block_hash)".
type Result struct {
	Number     uint64
	OutputRoot common.Hash
	BlockHash  common.Hash
}

// Driver owns the executor, the pipeline, and the cursor.
type Driver struct {
	cfg      *rollup.Config
	logger   log.Logger
	oracle   Oracle
	l1       *chainprovider.L1Provider
	l2       *chainprovider.L2Provider
	pipeline *derive.Pipeline
	exec     *executor.Executor
	code     executor.CodeProvider
	cursor   Cursor
	isInterop bool

	// lastOutputRoot caches the most recently computed output root so Run's
	// terminal Result doesn't need to recompute it after the loop exits.
	lastOutputRoot common.Hash
}

func New(cfg *rollup.Config, logger log.Logger, oracle Oracle, l1 *chainprovider.L1Provider, l2 *chainprovider.L2Provider, pipeline *derive.Pipeline, exec *executor.Executor, code executor.CodeProvider, cursor Cursor, isInterop bool) *Driver {
	return &Driver{
		cfg: cfg, logger: logger, oracle: oracle, l1: l1, l2: l2,
		pipeline: pipeline, exec: exec, code: code, cursor: cursor, isInterop: isInterop,
	}
}

// Run drives the loop to completion, per §4.10 and its EndOfSource
// termination rule: non-interop clamps the target to the current safe
// head; interop instead signals InvalidTransitionHash to the caller via
// ErrEndOfSourceInterop so the prestate layer can fold that in.
var ErrEndOfSourceInterop = errors.New("driver: end of source reached (interop)")

func (d *Driver) Run() (Result, error) {
	for !d.cursor.Done() {
		stepResult, err := d.pipeline.Step(d.cursor.SafeHead)
		if err != nil {
			handled, stepErr := d.handleStepError(err)
			if stepErr != nil {
				return Result{}, stepErr
			}
			if handled {
				continue
			}
		}
		if stepResult != derive.StepPreparedAttributes {
			continue
		}

		attrs, ok := d.pipeline.Next()
		if !ok {
			continue
		}

		header, outputRoot, err := d.executeWithRetry(attrs)
		if err != nil {
			return Result{}, fmt.Errorf("driver: execute block %d: %w", d.cursor.SafeHead.Number+1, err)
		}

		d.cursor.SafeHeader = header
		d.cursor.SafeHead = chainprovider.L2BlockInfo{
			Hash:       header.Hash(),
			Number:     header.Number.Uint64(),
			ParentHash: header.ParentHash,
			Timestamp:  header.Time,
			L1Origin:   attrs.L1Origin,
			SeqNum:     d.cursor.SafeHead.SeqNum + 1,
		}

		d.logger.Info("advanced safe head", "number", d.cursor.SafeHead.Number, "hash", d.cursor.SafeHead.Hash, "output_root", outputRoot)
	}

	return Result{
		Number:     d.cursor.SafeHead.Number,
		OutputRoot: d.lastOutputRoot,
		BlockHash:  d.cursor.SafeHead.Hash,
	}, nil
}

// executeWithRetry executes attrs and, on failure once Holocene is active,
// retries with all non-deposit transactions stripped ("deposit-only"
// block), per §4.9's post-Holocene failure recovery. A second failure is
// fatal.
func (d *Driver) executeWithRetry(attrs derive.OpAttributesWithParent) (*types.Header, common.Hash, error) {
	parent := d.cursor.SafeHeader
	result, err := d.exec.Execute(parent, attrs, d.newTrieDB(parent))
	if err == nil {
		return d.seal(result, attrs)
	}
	if !d.cfg.IsHolocene(attrs.Timestamp) {
		return nil, common.Hash{}, err
	}

	// The deposit-only retry reuses the attributes already in hand, with
	// every non-deposit transaction filtered out. The channel/batch stages
	// may have buffered state built from the rejected transactions, so they
	// are flushed first.
	d.pipeline.Signal(derive.Signal{Flush: true})

	depositOnly := attrs
	depositOnly.Transactions = filterDeposits(attrs.Transactions)
	result, retryErr := d.exec.Execute(parent, depositOnly, d.newTrieDB(parent))
	if retryErr != nil {
		return nil, common.Hash{}, fmt.Errorf("deposit-only retry also failed (original: %v): %w", err, retryErr)
	}
	return d.seal(result, depositOnly)
}

func (d *Driver) seal(result *executor.ExecuteResult, attrs derive.OpAttributesWithParent) (*types.Header, common.Hash, error) {
	db := d.newTrieDB(result.Header)
	l2ToL1Root, err := db.L2ToL1StorageRoot(executor.L2ToL1MessagePasser)
	if err != nil {
		return nil, common.Hash{}, err
	}
	blockHash := result.Header.Hash()
	outputRoot := executor.OutputRoot(result.Header.Root, l2ToL1Root, blockHash)
	d.lastOutputRoot = outputRoot
	return result.Header, outputRoot, nil
}

func (d *Driver) newTrieDB(parent *types.Header) *executor.TrieDB {
	return executor.NewTrieDB(parent.Root, d.l2, d.code, d.l2HeaderAdapter(), parent.Hash())
}

// l2HeaderAdapter adapts L2Provider.HeaderByHash to executor.HeaderProvider.
func (d *Driver) l2HeaderAdapter() executor.HeaderProvider {
	return headerProviderFunc(d.l2.HeaderByHash)
}

type headerProviderFunc func(common.Hash) (*types.Header, error)

func (f headerProviderFunc) HeaderByHash(hash common.Hash) (*types.Header, error) { return f(hash) }

func filterDeposits(txs [][]byte) [][]byte {
	var out [][]byte
	for _, raw := range txs {
		if len(raw) > 0 && raw[0] == byte(types.DepositTxType) {
			out = append(out, raw)
		}
	}
	return out
}

// handleStepError routes a pipeline error by severity, per §4.10's reorg
// handling: on any ErrReset (whatever its ResetReason) the driver flushes
// the oracle, re-queries the L2 system config, and sends a Reset signal; no
// Activation signal is sent. NotEnoughData and Temporary are retried by
// simply looping again; Critical is fatal.
func (d *Driver) handleStepError(err error) (handled bool, fatal error) {
	switch {
	case errors.Is(err, derive.ErrNotEnoughData), errors.Is(err, derive.ErrTemporary):
		return true, nil
	case errors.Is(err, derive.ErrEndOfSource):
		if d.isInterop {
			return false, ErrEndOfSourceInterop
		}
		d.cursor.Target = d.cursor.SafeHead.Number
		return true, nil
	case errors.Is(err, derive.ErrReset):
		d.oracle.Flush()
		sysCfg, cfgErr := d.l2.SystemConfigByNumber(d.cursor.SafeHead.Number, d.cfg.Genesis.SystemConfig)
		if cfgErr != nil {
			return false, fmt.Errorf("driver: refresh system config on reset: %w", cfgErr)
		}
		d.pipeline.Signal(derive.Signal{Reset: &derive.ResetSignal{
			L2SafeHead:   d.cursor.SafeHead,
			L1Origin:     d.cursor.SafeHead.L1Origin,
			SystemConfig: sysCfg,
		}})
		return true, nil
	case errors.Is(err, derive.ErrCritical):
		return false, fmt.Errorf("driver: critical pipeline error: %w", err)
	default:
		return false, fmt.Errorf("driver: unrecognised pipeline error: %w", err)
	}
}
