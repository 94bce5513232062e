package buffer

import (
	"github.com/jobala/kcore/lock"
	"github.com/jobala/kcore/storage/disk"
)

func newBuffer(blockNo uint64) *Buffer {
	return &Buffer{
		blockNo: blockNo,
		lock:    lock.NewSleepLock(),
		Data:    make([]byte, disk.BLOCK_SIZE),
	}
}

func (b *Buffer) Dev() uint32 {
	return b.dev
}

func (b *Buffer) BlockNo() uint64 {
	return b.blockNo
}

// Buffer holds the cached copy of one disk block. The sleep lock guards Data
// and serializes disk transfers; identity and refcnt are guarded by the lock
// of whichever bucket the buffer currently sits in.
type Buffer struct {
	dev     uint32
	blockNo uint64
	valid   bool
	refcnt  int
	lock    *lock.SleepLock
	Data    []byte

	// ring links, a buffer is on exactly one bucket's ring at a time
	prev *Buffer
	next *Buffer
}

// initRing points the sentinel at itself, an empty ring.
func (bkt *bucket) initRing() {
	bkt.head.prev = &bkt.head
	bkt.head.next = &bkt.head
}

// insertFront links b in at the most-recently-used end of the ring.
func (bkt *bucket) insertFront(b *Buffer) {
	b.next = bkt.head.next
	b.prev = &bkt.head
	bkt.head.next.prev = b
	bkt.head.next = b
}

// unlink removes b from whatever ring it is on.
func unlink(b *Buffer) {
	b.next.prev = b.prev
	b.prev.next = b.next
}

// bucket is one shard of the cache: a spin lock plus a sentinel-headed
// doubly linked ring. head.next is the most recently released buffer,
// head.prev the least.
type bucket struct {
	lock lock.SpinLock
	head Buffer
}
