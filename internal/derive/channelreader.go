package derive

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/faultproof/opcore/internal/rollup"
)

// Decompressed-payload size bounds, per §4.8 stage 5.
const (
	MaxRLPBytesPerChannel      = 10_000_000
	FjordMaxRLPBytesPerChannel = 100_000_000
)

// ChannelReader decompresses a channel's payload (stage 5). The first byte
// selects the codec: 0x78 or low-nibble 0x08 -> zlib; 0x01 -> Brotli, valid
// only at/after Fjord activation of the *batch* timestamp (SPEC_FULL §3.3's
// Open-Question resolution — the batch's own timestamp gates Brotli
// eligibility, not the channel's L1 origin).
type ChannelReader struct {
	cfg *rollup.Config
}

func NewChannelReader(cfg *rollup.Config) *ChannelReader {
	return &ChannelReader{cfg: cfg}
}

// Decompress decompresses payload and RLP-decodes the result into a
// sequence of opaque Bytes items, each of which the caller further decodes
// into a Batch. batchTimestamp is the timestamp of the batch this channel
// is expected to yield, used to gate Brotli eligibility.
func (r *ChannelReader) Decompress(payload []byte, batchTimestamp uint64) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty channel payload", ErrCritical)
	}
	codec := payload[0]
	maxLen := MaxRLPBytesPerChannel
	if r.cfg.IsFjord(batchTimestamp) {
		maxLen = FjordMaxRLPBytesPerChannel
	}

	var decompressed []byte
	var err error
	switch {
	case codec == 0x78 || codec&0x0f == 0x08:
		decompressed, err = inflateZlib(payload)
	case codec == 0x01:
		if !r.cfg.IsFjord(batchTimestamp) {
			return nil, fmt.Errorf("%w: brotli codec used before Fjord activation", ErrCritical)
		}
		decompressed, err = inflateBrotli(payload[1:], maxLen)
	default:
		return nil, fmt.Errorf("%w: unknown channel codec byte 0x%02x", ErrCritical, codec)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decompress channel: %v", ErrCritical, err)
	}
	if len(decompressed) > maxLen {
		return nil, fmt.Errorf("%w: decompressed channel exceeds %d bytes", ErrCritical, maxLen)
	}

	var items [][]byte
	rest := decompressed
	for len(rest) > 0 {
		var item []byte
		next, err := rlpDecodeOne(rest, &item)
		if err != nil {
			return nil, fmt.Errorf("%w: decode channel item: %v", ErrCritical, err)
		}
		items = append(items, item)
		rest = next
	}
	return items, nil
}

func inflateZlib(payload []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func inflateBrotli(payload []byte, maxLen int) ([]byte, error) {
	br := brotli.NewReader(bytes.NewReader(payload))
	return io.ReadAll(io.LimitReader(br, int64(maxLen)+1))
}

// DecodeBatch decodes one channel item into a Batch (SingleBatch or
// SpanBatch), distinguishing by its first byte (batch-type tag), mirroring
// the real span-batch/singular-batch framing.
func DecodeBatch(item []byte) (Batch, error) {
	if len(item) == 0 {
		return Batch{}, fmt.Errorf("%w: empty batch item", ErrCritical)
	}
	switch item[0] {
	case 0x00:
		var sb SingleBatch
		if err := rlp.DecodeBytes(item[1:], &sb); err != nil {
			return Batch{}, fmt.Errorf("%w: decode single batch: %v", ErrCritical, err)
		}
		return Batch{Single: &sb}, nil
	case 0x01:
		var sb SpanBatch
		if err := rlp.DecodeBytes(item[1:], &sb); err != nil {
			return Batch{}, fmt.Errorf("%w: decode span batch: %v", ErrCritical, err)
		}
		return Batch{Span: &sb}, nil
	default:
		return Batch{}, fmt.Errorf("%w: unknown batch type tag 0x%02x", ErrCritical, item[0])
	}
}
