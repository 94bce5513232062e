package mem

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/jobala/kcore/util"
	"github.com/stretchr/testify/assert"
)

func TestPageAllocator(t *testing.T) {
	t.Run("allocates every managed page then fails recoverably", func(t *testing.T) {
		a := NewPageAllocator(0, 4*PAGE_SIZE, 1)

		seen := map[uint64]bool{}
		for n := 0; n < 4; n++ {
			addr, err := a.Alloc()
			assert.NoError(t, err)
			assert.Zero(t, addr%PAGE_SIZE)
			assert.False(t, seen[addr])
			seen[addr] = true
		}

		_, err := a.Alloc()
		assert.ErrorIs(t, err, ErrOutOfMemory)
	})

	t.Run("allocated pages carry the fresh junk pattern", func(t *testing.T) {
		a := NewPageAllocator(0, 4*PAGE_SIZE, 1)

		addr, err := a.Alloc()
		assert.NoError(t, err)
		copy(a.Page(addr), []byte("caller scribbles"))
		a.Free(addr)

		addr, err = a.Alloc()
		assert.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{allocJunk}, PAGE_SIZE), a.Page(addr))
	})

	t.Run("free list is LIFO", func(t *testing.T) {
		a := NewPageAllocator(0, 4*PAGE_SIZE, 1)
		drain(a)

		a.Free(0)
		a.Free(PAGE_SIZE)

		addr, err := a.Alloc()
		assert.NoError(t, err)
		assert.Equal(t, uint64(PAGE_SIZE), addr)

		addr, err = a.Alloc()
		assert.NoError(t, err)
		assert.Equal(t, uint64(0), addr)
	})

	t.Run("pages below kernel end are never handed out", func(t *testing.T) {
		a := NewPageAllocator(2*PAGE_SIZE, 6*PAGE_SIZE, 1)

		for {
			addr, err := a.Alloc()
			if err != nil {
				break
			}
			assert.GreaterOrEqual(t, addr, uint64(2*PAGE_SIZE))
		}
	})
}

func TestStealing(t *testing.T) {
	t.Run("empty local list steals exactly one page", func(t *testing.T) {
		a := NewPageAllocator(0, 4*PAGE_SIZE, 2)
		cpu := 0
		a.cpuid = func() int { return cpu }
		drain(a)

		cpu = 1
		a.Free(PAGE_SIZE)
		a.Free(2 * PAGE_SIZE)
		assert.Equal(t, 2, listLen(a, 1))
		assert.Equal(t, 0, listLen(a, 0))

		cpu = 0
		addr, err := a.Alloc()
		assert.NoError(t, err)
		assert.Equal(t, uint64(2*PAGE_SIZE), addr)
		assert.Equal(t, 1, listLen(a, 1))
		assert.Equal(t, 0, listLen(a, 0))
	})

	t.Run("no page is lost or duplicated under contention", func(t *testing.T) {
		const pages = 32
		a := NewPageAllocator(0, pages*PAGE_SIZE, 4)

		var wg sync.WaitGroup
		for n := 0; n < 8; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				held := []uint64{}
				for n := 0; n < 200; n++ {
					if addr, err := a.Alloc(); err == nil {
						held = append(held, addr)
					}
					if len(held) > 2 {
						a.Free(held[0])
						held = held[1:]
					}
				}
				for _, addr := range held {
					a.Free(addr)
				}
			}()
		}
		wg.Wait()

		seen := map[uint64]bool{}
		for {
			addr, err := a.Alloc()
			if err != nil {
				break
			}
			assert.False(t, seen[addr])
			seen[addr] = true
		}
		assert.Len(t, seen, pages)
	})
}

func TestBoundaryFaults(t *testing.T) {
	t.Run("misaligned free is fatal and mutates nothing", func(t *testing.T) {
		a := NewPageAllocator(0, 4*PAGE_SIZE, 1)
		before := listLen(a, 0)

		defer func() {
			_, ok := recover().(*util.FatalError)
			assert.True(t, ok)
			assert.Equal(t, before, listLen(a, 0))
		}()
		a.Free(PAGE_SIZE / 2)
	})

	t.Run("free above the top of memory is fatal", func(t *testing.T) {
		a := NewPageAllocator(0, 4*PAGE_SIZE, 1)

		assert.Panics(t, func() { a.Free(4 * PAGE_SIZE) })
	})

	t.Run("free below kernel end is fatal", func(t *testing.T) {
		a := NewPageAllocator(2*PAGE_SIZE, 6*PAGE_SIZE, 1)

		assert.Panics(t, func() { a.Free(PAGE_SIZE) })
	})
}

// drain empties every free list so a test can rebuild a known layout.
func drain(a *PageAllocator) {
	for {
		if _, err := a.Alloc(); err != nil {
			return
		}
	}
}

// listLen walks cpu's free list through the on-page links.
func listLen(a *PageAllocator, cpu int) int {
	n := 0
	for addr := a.cpus[cpu].head; addr != NO_PAGE; {
		n++
		addr = binary.LittleEndian.Uint64(a.mem[addr : addr+8])
	}
	return n
}
