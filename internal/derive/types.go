package derive

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/faultproof/opcore/internal/chainprovider"
	"github.com/faultproof/opcore/internal/rollup"
)

// Frame is a single RLP-decoded frame extracted from batcher calldata or a
// blob, per spec §3.
type Frame struct {
	ChannelID   [16]byte
	FrameNumber uint16
	Data        []byte
	IsLast      bool
}

// Channel is a frame-buffered unit of compressed batch data, per spec §3.
type Channel struct {
	ID           [16]byte
	OpenOrigin   types.Header
	Frames       map[uint16][]byte
	LastFrameSeen bool
	highestFrame  uint16
}

func NewChannel(id [16]byte, origin types.Header) *Channel {
	return &Channel{ID: id, OpenOrigin: origin, Frames: make(map[uint16][]byte)}
}

// AddFrame inserts a frame at its number, silently dropping duplicates
// (§4.8 stage 4: "detect duplicates (drop silently)").
func (c *Channel) AddFrame(f Frame) {
	if _, ok := c.Frames[f.FrameNumber]; ok {
		return
	}
	c.Frames[f.FrameNumber] = f.Data
	if f.FrameNumber > c.highestFrame {
		c.highestFrame = f.FrameNumber
	}
	if f.IsLast {
		c.LastFrameSeen = true
	}
}

// Ready reports whether frames 0..n are present and the last-frame flag is
// set.
func (c *Channel) Ready() bool {
	if !c.LastFrameSeen {
		return false
	}
	for i := uint16(0); i <= c.highestFrame; i++ {
		if _, ok := c.Frames[i]; !ok {
			return false
		}
	}
	return true
}

// TimedOut reports whether the channel has outlived the configured
// timeout relative to currentOrigin.
func (c *Channel) TimedOut(currentOriginNumber, channelTimeout uint64) bool {
	return c.OpenOrigin.Number.Uint64()+channelTimeout < currentOriginNumber
}

// Payload concatenates frames 0..highestFrame in order, for handoff to the
// Channel Reader.
func (c *Channel) Payload() []byte {
	var out []byte
	for i := uint16(0); i <= c.highestFrame; i++ {
		out = append(out, c.Frames[i]...)
	}
	return out
}

// SingleBatch is one L2 block's worth of batched transactions, spec §3.
type SingleBatch struct {
	ParentHash common.Hash
	EpochNum   uint64
	EpochHash  common.Hash
	Timestamp  uint64
	Transactions [][]byte // opaque 2718-encoded transactions
}

// SpanBatch carries relative timestamps, an origin-change bitlist, and
// per-block transaction counts recoverable into a sequence of SingleBatch.
type SpanBatch struct {
	ParentCheck        [20]byte // first 20 bytes of the expected parent hash
	L1OriginCheck      [20]byte
	GenesisTimestamp   uint64
	BlockCount         uint64
	RelativeTimestamps []uint64
	OriginBits         []bool
	BlockTxCounts      []uint64
	TxData             [][]byte // flattened, per-block-chunked compressed transactions
}

// Batch is the tagged union of SingleBatch | SpanBatch.
type Batch struct {
	Single *SingleBatch
	Span   *SpanBatch
}

// OpAttributesWithParent is the Attributes Queue's output: the minimum
// engine input for one L2 block plus the parent it builds on.
type OpAttributesWithParent struct {
	Parent     chainprovider.L2BlockInfo
	Timestamp  uint64
	L1Origin   common.Hash
	Transactions [][]byte
	NoTxPool   bool
	GasLimit   uint64
	PrevRandao common.Hash
}

// Signal is the pipeline-wide push notification family from §4.8.
type Signal struct {
	Reset      *ResetSignal
	Activation *ActivationSignal
	Flush      bool // FlushChannel
}

type ResetSignal struct {
	L2SafeHead   chainprovider.L2BlockInfo
	L1Origin     common.Hash
	SystemConfig rollup.SystemConfig
}

type ActivationSignal struct {
	AtOrigin common.Hash
}

// StepResult is the outcome of one call to Pipeline.Step.
type StepResult int

const (
	StepPreparedAttributes StepResult = iota
	StepAdvancedOrigin
)
