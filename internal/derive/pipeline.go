package derive

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/faultproof/opcore/internal/blob"
	"github.com/faultproof/opcore/internal/chainprovider"
	"github.com/faultproof/opcore/internal/rollup"
)

// Pipeline is the heap-allocated facade over the fixed stage tower, per
// the Design Notes' "Stage dispatch" strategy: rather than modelling each
// stage as a generic type parameter, the facade owns every stage directly
// and drives them with a single Step call.
type Pipeline struct {
	cfg    *rollup.Config
	l1     *chainprovider.L1Provider
	logger log.Logger

	traversal  *Traversal
	retrieval  *Retrieval
	frameQueue *FrameQueue
	bank       *ChannelBank
	reader     *ChannelReader
	stream     *BatchStream
	provider   *BatchProvider
	attributes *AttributesQueue

	prepared *OpAttributesWithParent
}

// NewPipeline wires the fixed stage tower bottom-up, matching the
// dependency order in §2.
func NewPipeline(cfg *rollup.Config, l1 *chainprovider.L1Provider, blobs *blob.Provider, origin common.Hash, l1Head common.Hash, sysCfg rollup.SystemConfig, logger log.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = log.Root()
	}
	header, err := l1.HeaderByHash(origin)
	if err != nil {
		return nil, fmt.Errorf("derive: resolve starting origin: %w", err)
	}
	traversal := NewTraversal(l1, cfg, *header, sysCfg, l1Head)
	retrieval := NewRetrieval(l1, blobs, cfg, traversal)
	frameQueue := NewFrameQueue(retrieval, logger)
	bank := NewChannelBank(cfg, frameQueue)
	reader := NewChannelReader(cfg)
	stream := NewBatchStream(reader)
	provider := NewBatchProvider(cfg)
	attributes := NewAttributesQueue(cfg, l1)

	return &Pipeline{
		cfg: cfg, l1: l1, logger: logger,
		traversal: traversal, retrieval: retrieval, frameQueue: frameQueue,
		bank: bank, reader: reader, stream: stream, provider: provider,
		attributes: attributes,
	}, nil
}

// Signal delivers a pipeline-wide Reset/Activation/FlushChannel signal, per
// §4.8. A Reset drops the in-flight state of the retrieval, frame queue,
// channel bank, batch stream and batch provider stages and any prepared
// attributes; the traversal stage keeps its current origin. A FlushChannel
// drops only the channel bank and batch stream state.
func (p *Pipeline) Signal(sig Signal) {
	if sig.Reset != nil {
		p.retrieval.source = nil
		p.retrieval.sourceIx = 0
		p.frameQueue.buffered = nil
		p.bank.Reset()
		p.stream.Reset()
		p.provider.Reset()
		p.prepared = nil
	}
	if sig.Flush {
		p.bank.Reset()
		p.stream.Reset()
	}
}

// Step is the pipeline's pull-based top-level operation: it tries to
// prepare one OpAttributesWithParent for safeHead's successor. Returns
// StepPreparedAttributes (attributes now available via Next()),
// StepAdvancedOrigin (no attributes yet, L1 origin moved forward), or an
// error. ErrNotEnoughData/ErrTemporary are meant to be retried by the
// caller against the same safe head; all others propagate, per §4.8.
func (p *Pipeline) Step(safeHead chainprovider.L2BlockInfo) (StepResult, error) {
	if p.prepared != nil {
		return StepPreparedAttributes, nil
	}

	if err := p.bank.IngestFrame(func() types.Header { return p.traversal.Origin() }); err != nil {
		return 0, err
	}

	payload, err := p.bank.Read(p.traversal.Origin().Number.Uint64(), p.cfg.IsCanyon(p.traversal.Origin().Time))
	if err != nil {
		if isRetryable(err) {
			return StepAdvancedOrigin, nil
		}
		return 0, err
	}

	items, err := p.reader.Decompress(payload, safeHead.Timestamp+p.cfg.BlockTime)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		b, err := DecodeBatch(item)
		if err != nil {
			return 0, err
		}
		if _, err := p.stream.Ingest(b, safeHead, p.cfg.BlockTime); err != nil {
			return 0, err
		}
	}

	single, err := p.stream.Next()
	if err != nil {
		if isRetryable(err) {
			return StepAdvancedOrigin, nil
		}
		return 0, err
	}
	p.provider.Add(single, p.traversal.Origin().Time)

	eligible, err := p.provider.NextFor(safeHead, p.traversal.Origin().Time)
	if err != nil {
		if isRetryable(err) {
			return StepAdvancedOrigin, nil
		}
		return 0, err
	}

	attrs, err := p.attributes.Derive(eligible, safeHead, p.traversal.Origin().Hash(), p.cfg.Genesis.SystemConfig.GasLimit, common.Hash{})
	if err != nil {
		return 0, err
	}
	p.prepared = &attrs
	return StepPreparedAttributes, nil
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrNotEnoughData) || errors.Is(err, ErrTemporary)
}

// Next returns the prepared attributes computed by the last successful
// Step call that returned StepPreparedAttributes, clearing the pending
// slot.
func (p *Pipeline) Next() (OpAttributesWithParent, bool) {
	if p.prepared == nil {
		return OpAttributesWithParent{}, false
	}
	attrs := *p.prepared
	p.prepared = nil
	return attrs, true
}

func (p *Pipeline) Origin() common.Hash { return p.traversal.Origin().Hash() }
