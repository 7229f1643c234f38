package derive

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/faultproof/opcore/internal/rollup"
)

// MaxChannelBankSize bounds total buffered channel-frame bytes; on
// overflow the bank prunes from the head, per §4.8 stage 4 and the §8
// invariant `size() <= MAX_CHANNEL_BANK_SIZE`.
const MaxChannelBankSize = 100_000_000

// ChannelBank maintains a FIFO of open channels keyed by channel id.
type ChannelBank struct {
	cfg    *rollup.Config
	queue  *FrameQueue
	order  []([16]byte)
	byID   map[[16]byte]*Channel
	size   int
}

func NewChannelBank(cfg *rollup.Config, queue *FrameQueue) *ChannelBank {
	return &ChannelBank{cfg: cfg, queue: queue, byID: make(map[[16]byte]*Channel)}
}

// IngestFrame pulls the next frame and inserts it into its channel,
// creating the channel if new, rejecting frames for already-timed-out
// channels, and dropping duplicates silently.
func (b *ChannelBank) IngestFrame(currentOrigin func() types.Header) error {
	f, err := b.queue.NextFrame()
	if err != nil {
		return err
	}
	origin := currentOrigin()
	ch, ok := b.byID[f.ChannelID]
	if !ok {
		ch = NewChannel(f.ChannelID, origin)
		b.byID[f.ChannelID] = ch
		b.order = append(b.order, f.ChannelID)
	}
	if ch.TimedOut(origin.Number.Uint64(), b.cfg.ChannelTimeout) {
		return nil // reject frames for timed-out channels
	}
	before := len(ch.Frames)
	ch.AddFrame(f)
	if len(ch.Frames) > before {
		b.size += len(f.Data)
	}
	b.prune()
	return nil
}

func (b *ChannelBank) prune() {
	for b.size > MaxChannelBankSize && len(b.order) > 0 {
		id := b.order[0]
		b.order = b.order[1:]
		if ch, ok := b.byID[id]; ok {
			for _, data := range ch.Frames {
				b.size -= len(data)
			}
			delete(b.byID, id)
		}
	}
}

// Read pops the first channel that is ready or timed out. A timed-out
// channel is dropped and Read reports it (None-equivalent) so the caller
// retries. Post-Canyon, the whole queue is scanned instead of only the
// head, per §4.8 stage 4.
func (b *ChannelBank) Read(currentOriginNumber uint64, postCanyon bool) ([]byte, error) {
	scanLimit := 1
	if postCanyon {
		scanLimit = len(b.order)
	}
	for i := 0; i < scanLimit && i < len(b.order); i++ {
		id := b.order[i]
		ch := b.byID[id]
		if ch == nil {
			continue
		}
		if ch.TimedOut(currentOriginNumber, b.cfg.ChannelTimeout) {
			b.remove(id)
			return nil, fmt.Errorf("%w: channel %x timed out", ErrNotEnoughData, id)
		}
		if ch.Ready() {
			b.remove(id)
			return ch.Payload(), nil
		}
	}
	return nil, fmt.Errorf("%w", ErrNotEnoughData)
}

func (b *ChannelBank) remove(id [16]byte) {
	if ch, ok := b.byID[id]; ok {
		for _, data := range ch.Frames {
			b.size -= len(data)
		}
		delete(b.byID, id)
	}
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *ChannelBank) Size() int { return b.size }

func (b *ChannelBank) Reset() {
	b.order = nil
	b.byID = make(map[[16]byte]*Channel)
	b.size = 0
}
