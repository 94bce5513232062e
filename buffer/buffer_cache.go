package buffer

import (
	"runtime"

	"github.com/jobala/kcore/storage/disk"
	"github.com/jobala/kcore/util"
)

const (
	BUCKET_COUNT  = 13
	DEFAULT_SLOTS = 30
)

// NewBufferCache builds the cache with slots fixed buffers sharded across
// buckets rings. All slots exist for the life of the cache; they are only
// ever reassigned to new (device, block) identities, never freed.
func NewBufferCache(slots, buckets int, dev disk.BlockRW) *BufferCache {
	c := &BufferCache{
		dev:     dev,
		slots:   make([]*Buffer, slots),
		buckets: make([]bucket, buckets),
	}

	for i := range c.buckets {
		c.buckets[i].initRing()
	}

	// seeding blockNo with the slot index spreads the slots round-robin
	// across buckets, since a buffer lives in bucket blockNo mod buckets
	for i := 0; i < slots; i++ {
		b := newBuffer(uint64(i))
		c.slots[i] = b
		c.bucket(b.blockNo).insertFront(b)
	}

	return c
}

// Read returns the buffer caching block blockNo of device dev, with its sleep
// lock held and its payload valid. The caller must hand the buffer back with
// Release.
func (c *BufferCache) Read(dev uint32, blockNo uint64) *Buffer {
	b := c.get(dev, blockNo)
	if !b.valid {
		if err := c.dev.RW(dev, blockNo, b.Data, false); err != nil {
			util.Fatalf("buffer cache: read dev=%d block=%d: %v", dev, blockNo, err)
		}
		b.valid = true
	}
	return b
}

// Write flushes b's payload to disk. The caller must hold b's sleep lock.
func (c *BufferCache) Write(b *Buffer) {
	if !b.lock.Holding() {
		util.Fatalf("buffer cache: write of unlocked buffer")
	}
	if err := c.dev.RW(b.dev, b.blockNo, b.Data, true); err != nil {
		util.Fatalf("buffer cache: write dev=%d block=%d: %v", b.dev, b.blockNo, err)
	}
}

// Release drops the caller's hold on b. When the last holder releases, the
// buffer moves to the most-recently-used end of its ring: the first candidate
// for reuse within its own bucket, and the last candidate for theft by a
// foreign one.
func (c *BufferCache) Release(b *Buffer) {
	if !b.lock.Holding() {
		util.Fatalf("buffer cache: release of unlocked buffer")
	}
	b.lock.Release()

	bkt := c.bucket(b.blockNo)
	bkt.lock.Acquire()
	b.refcnt--
	if b.refcnt == 0 {
		unlink(b)
		bkt.insertFront(b)
	}
	bkt.lock.Release()
}

// Pin keeps b from being repurposed without holding its sleep lock, so a
// holder can span a longer logical operation while others access the payload.
func (c *BufferCache) Pin(b *Buffer) {
	bkt := c.bucket(b.blockNo)
	bkt.lock.Acquire()
	b.refcnt++
	bkt.lock.Release()
}

func (c *BufferCache) Unpin(b *Buffer) {
	bkt := c.bucket(b.blockNo)
	bkt.lock.Acquire()
	b.refcnt--
	bkt.lock.Release()
}

// WithBlock reads the block, runs fn with the locked buffer and releases it
// on return. fn calls Write itself if it mutated the payload.
func (c *BufferCache) WithBlock(dev uint32, blockNo uint64, fn func(b *Buffer)) {
	b := c.Read(dev, blockNo)
	defer c.Release(b)
	fn(b)
}

// get returns a sleep-locked buffer assigned to (dev, blockNo), fetching it
// from the cache or repurposing an unreferenced slot. Identity is assigned
// under bucket locks before the sleep lock is taken, so concurrent requests
// for the same block converge on one buffer and serialize on its sleep lock.
func (c *BufferCache) get(dev uint32, blockNo uint64) *Buffer {
	bkt := c.bucket(blockNo)
	bkt.lock.Acquire()

	// cached?
	for b := bkt.head.next; b != &bkt.head; b = b.next {
		if b.dev == dev && b.blockNo == blockNo {
			b.refcnt++
			bkt.lock.Release()
			b.lock.Acquire()
			return b
		}
	}

	// not cached, repurpose an unreferenced buffer from our own bucket,
	// freshest release first
	for b := bkt.head.next; b != &bkt.head; b = b.next {
		if b.refcnt == 0 {
			util.Debug("miss dev=%d block=%d, reusing local buffer", dev, blockNo)
			c.assign(b, dev, blockNo)
			bkt.lock.Release()
			b.lock.Acquire()
			return b
		}
	}

	// our bucket is fully referenced, steal the stalest unreferenced buffer
	// from another bucket. Foreign bucket locks are taken with TryAcquire
	// while we hold our own, so two concurrent stealers can never block on
	// each other's bucket. A contended bucket is rescanned on the next pass.
	for {
		contended := false
		for i := range c.buckets {
			other := &c.buckets[i]
			if other == bkt {
				continue
			}
			if !other.lock.TryAcquire() {
				contended = true
				continue
			}

			for b := other.head.prev; b != &other.head; b = b.prev {
				if b.refcnt == 0 {
					util.Debug("miss dev=%d block=%d, stealing from bucket %d", dev, blockNo, i)
					c.assign(b, dev, blockNo)
					unlink(b)
					bkt.insertFront(b)
					other.lock.Release()
					bkt.lock.Release()
					b.lock.Acquire()
					return b
				}
			}
			other.lock.Release()
		}

		if !contended {
			bkt.lock.Release()
			util.Fatalf("buffer cache exhausted")
		}
		runtime.Gosched()
	}
}

// assign repurposes b for a new identity. Callers hold the bucket lock and
// have checked refcnt == 0.
func (c *BufferCache) assign(b *Buffer, dev uint32, blockNo uint64) {
	b.dev = dev
	b.blockNo = blockNo
	b.valid = false
	b.refcnt = 1
}

func (c *BufferCache) bucket(blockNo uint64) *bucket {
	return &c.buckets[blockNo%uint64(len(c.buckets))]
}

// BufferCache is the sharded disk-block cache. Each bucket's spin lock covers
// ring membership and the identity/refcnt fields of its buffers; payloads are
// covered by the per-buffer sleep locks, so a slow disk transfer for one
// block never stalls hits on other blocks.
type BufferCache struct {
	dev     disk.BlockRW
	slots   []*Buffer
	buckets []bucket
}
