package preimage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotFound is returned when a key cannot be resolved even after the
// associated hint has been (re-)sent, mirroring the host's "preimage not
// found" response in node/cannon/preimage_server.go.
var ErrNotFound = errors.New("preimage: not found")

const DefaultCacheSize = 1024

// Oracle is the narrow interface the rest of the core depends on, so the
// derivation pipeline and executor never talk to the raw channel directly.
type Oracle interface {
	Get(key [32]byte) ([]byte, error)
	Hint(hint string)
}

// CachingOracle remembers the last hint sent, so a fetch that comes back
// empty after a hint was already issued is retried exactly once before
// giving up, per §4.2 ("issues hints before first fetch of a key").
type CachingOracle struct {
	channel *Channel
	cache   *lru.Cache[[32]byte, []byte]

	// lastHint is the most recently sent hint string; an empty Get fetch
	// replays it once, matching the retry loop in the real op-program prefetcher
	// (GetPreimage: "keep retrying the prefetch as long as the key is not
	// found").
	lastHint string
	evicted  int
}

// NewCachingOracle wraps a raw channel with a fixed-capacity LRU. size <= 0
// selects DefaultCacheSize.
func NewCachingOracle(channel *Channel, size int) *CachingOracle {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.NewWithEvict[[32]byte, []byte](size, func(_ [32]byte, _ []byte) {})
	if err != nil {
		// Only returned for a non-positive size, which we've just guarded.
		panic(fmt.Sprintf("preimage: invalid cache size %d: %v", size, err))
	}
	return &CachingOracle{channel: channel, cache: cache}
}

// Hint records the hint and forwards it across the channel. Hints are
// non-authoritative: a failed hint still acks (§4.1) and any dependent
// fetch simply fails on its own terms.
func (o *CachingOracle) Hint(hint string) {
	o.lastHint = hint
	_ = o.channel.Hints.Hint(hint)
}

// Get returns the cached preimage for key, or fetches it. If the fetch
// comes back empty and a hint was sent earlier, that hint is re-sent and
// the fetch retried once; a second empty fetch is terminal rather than
// silently retried forever.
func (o *CachingOracle) Get(key [32]byte) ([]byte, error) {
	if v, ok := o.cache.Get(key); ok {
		return v, nil
	}
	data, err := o.channel.Preimages.Get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 && o.lastHint != "" {
		o.Hint(o.lastHint)
		if data, err = o.channel.Preimages.Get(key); err != nil {
			return nil, err
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %x", ErrNotFound, key[:8])
	}
	if _, evicted := o.cache.ContainsOrAdd(key, data); evicted {
		o.evicted++
	}
	return data, nil
}

// Flush clears the cache. Used by the driver when a reorg is detected
// (§4.10), since previously cached L1-derived data is no longer trustworthy.
func (o *CachingOracle) Flush() {
	if o.cache.Len() == 0 {
		return
	}
	o.cache.Purge()
}

// Evictions returns the number of cache evictions so far, exposed for
// tests that want to assert the LRU bound is actually exercised.
func (o *CachingOracle) Evictions() int {
	return o.evicted
}

// GetKeccak256 is a convenience wrapper used by the client's contract-code
// lookup: Hint then Get for a Keccak256-typed key, verifying the
// returned bytes actually hash to the requested digest (defence against a
// misbehaving host).
func (o *CachingOracle) GetKeccak256(hintType string, digest common.Hash) ([]byte, error) {
	key := Keccak256Key(digest).PreimageKey()
	if _, ok := o.cache.Get(key); !ok {
		o.Hint(fmt.Sprintf("%s %x", hintType, digest))
	}
	data, err := o.Get(key)
	if err != nil {
		return nil, err
	}
	if crypto.Keccak256Hash(data) != digest {
		o.cache.Remove(key)
		return nil, fmt.Errorf("preimage: keccak256 mismatch for %x", digest[:8])
	}
	return data, nil
}
