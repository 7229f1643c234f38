package derive

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
)

func TestChannelReadyRequiresLastFrameAndContiguity(t *testing.T) {
	ch := NewChannel([16]byte{1}, types.Header{})
	ch.AddFrame(Frame{ChannelID: ch.ID, FrameNumber: 1, Data: []byte("b")})
	if ch.Ready() {
		t.Fatalf("channel should not be ready: missing frame 0 and no last flag")
	}
	ch.AddFrame(Frame{ChannelID: ch.ID, FrameNumber: 0, Data: []byte("a"), IsLast: false})
	if ch.Ready() {
		t.Fatalf("channel should not be ready: last-frame flag never set")
	}
	ch.AddFrame(Frame{ChannelID: ch.ID, FrameNumber: 2, Data: []byte("c"), IsLast: true})
	if !ch.Ready() {
		t.Fatalf("channel should be ready: frames 0..2 present and last seen")
	}
	if string(ch.Payload()) != "abc" {
		t.Fatalf("payload = %q, want %q", ch.Payload(), "abc")
	}
}

func TestChannelDuplicateFrameDropped(t *testing.T) {
	ch := NewChannel([16]byte{2}, types.Header{})
	ch.AddFrame(Frame{ChannelID: ch.ID, FrameNumber: 0, Data: []byte("first")})
	ch.AddFrame(Frame{ChannelID: ch.ID, FrameNumber: 0, Data: []byte("second")})
	if string(ch.Frames[0]) != "first" {
		t.Fatalf("duplicate frame overwrote original: got %q", ch.Frames[0])
	}
}
