package preimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Errors returned by the channel, per spec §4.1.
var (
	ErrIOError    = errors.New("preimage: transport failure")
	ErrInvalidKey = errors.New("preimage: malformed 32-byte key")
	ErrBadUTF8    = errors.New("preimage: non-UTF-8 hint payload")
)

// HintWriter is the client side of the hint channel: it writes a
// length-prefixed UTF-8 hint and blocks until the host's single ack byte
// arrives.
type HintWriter struct {
	rw io.ReadWriter
}

func NewHintWriter(rw io.ReadWriter) *HintWriter {
	return &HintWriter{rw: rw}
}

// Hint sends one hint and waits for its ack. The hint MUST precede the
// first preimage request for any key the host cannot already service.
func (h *HintWriter) Hint(hint string) error {
	if !utf8.ValidString(hint) {
		return ErrBadUTF8
	}
	payload := []byte(hint)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := h.rw.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	if len(payload) > 0 {
		if _, err := h.rw.Write(payload); err != nil {
			return fmt.Errorf("%w: %v", ErrIOError, err)
		}
	}
	var ack [1]byte
	if _, err := io.ReadFull(h.rw, ack[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return nil
}

// PreimageReader is the client side of the preimage channel: it writes the
// 32-byte key and reads back the length-prefixed response.
type PreimageReader struct {
	rw io.ReadWriter
}

func NewPreimageReader(rw io.ReadWriter) *PreimageReader {
	return &PreimageReader{rw: rw}
}

// Get fetches the raw preimage bytes for key. Partial reads/writes loop
// until the full message is transferred, per spec §5 (no half-read key or
// half-written length prefix is ever observed by the caller).
func (p *PreimageReader) Get(key [32]byte) ([]byte, error) {
	if _, err := p.rw.Write(key[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	var lenBuf [8]byte
	if _, err := io.ReadFull(p.rw, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	length := binary.BigEndian.Uint64(lenBuf[:])
	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(p.rw, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIOError, err)
		}
	}
	return data, nil
}

// Channel bundles both directions of the preimage protocol as seen by a
// fault-proof program client: a hint writer and a preimage reader, each
// potentially backed by a different file descriptor in VM mode or the same
// in-process pipe pair in native mode.
type Channel struct {
	Hints     *HintWriter
	Preimages *PreimageReader
}

func NewChannel(hintRW, preimageRW io.ReadWriter) *Channel {
	return &Channel{
		Hints:     NewHintWriter(hintRW),
		Preimages: NewPreimageReader(preimageRW),
	}
}
