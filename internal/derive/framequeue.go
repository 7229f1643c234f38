package derive

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// FrameQueue is stage 3: RLP-decodes frames out of data-source chunks. A
// single chunk may contain multiple frames; malformed frames are skipped
// with a warning and do not advance the queue pointer, per §4.8 stage 3.
type FrameQueue struct {
	retrieval *Retrieval
	logger    log.Logger

	buffered []byte
}

func NewFrameQueue(retrieval *Retrieval, logger log.Logger) *FrameQueue {
	if logger == nil {
		logger = log.Root()
	}
	return &FrameQueue{retrieval: retrieval, logger: logger}
}

// NextFrame returns the next well-formed frame, pulling more chunks from
// Retrieval as needed.
func (q *FrameQueue) NextFrame() (Frame, error) {
	for {
		if len(q.buffered) == 0 {
			chunk, err := q.retrieval.NextData()
			if err != nil {
				return Frame{}, err
			}
			q.buffered = chunk
		}
		f, rest, err := decodeFrame(q.buffered)
		if err != nil {
			q.logger.Warn("dropping malformed frame", "err", err)
			q.buffered = nil
			continue
		}
		q.buffered = rest
		return f, nil
	}
}

type wireFrame struct {
	ChannelID   [16]byte
	FrameNumber uint16
	Data        []byte
	IsLast      bool
}

func decodeFrame(data []byte) (Frame, []byte, error) {
	var wf wireFrame
	rest, err := rlpDecodeOne(data, &wf)
	if err != nil {
		return Frame{}, nil, fmt.Errorf("derive: decode frame: %w", err)
	}
	return Frame{ChannelID: wf.ChannelID, FrameNumber: wf.FrameNumber, Data: wf.Data, IsLast: wf.IsLast}, rest, nil
}

// rlpDecodeOne decodes one RLP-encoded value off the front of data and
// returns the remaining bytes, supporting the "a single chunk may contain
// multiple frames" requirement from §4.8 stage 3.
func rlpDecodeOne(data []byte, out interface{}) ([]byte, error) {
	reader := bytes.NewReader(data)
	stream := rlp.NewStream(reader, 0)
	if err := stream.Decode(out); err != nil {
		return nil, err
	}
	consumed := len(data) - reader.Len()
	if consumed < 0 || consumed > len(data) {
		return nil, fmt.Errorf("derive: frame decode consumed out of range")
	}
	return data[consumed:], nil
}
