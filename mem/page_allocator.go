package mem

import (
	"encoding/binary"
	"errors"
	"runtime"

	"github.com/jobala/kcore/lock"
	"github.com/jobala/kcore/util"
	"golang.org/x/sys/unix"
)

const (
	PAGE_SIZE    = 4096
	DEFAULT_CPUS = 8

	// NO_PAGE terminates a free list; it is also the address returned on
	// allocation failure.
	NO_PAGE = ^uint64(0)
)

const (
	freedJunk = 0x01 // fills a page on free, catches dangling reads
	allocJunk = 0x05 // fills a page on alloc, distinguishes it from a freed one
)

var ErrOutOfMemory = errors.New("out of physical memory")

// NewPageAllocator models physical memory [0, physTop) with one free list per
// processor and hands every page above kernelEnd to the allocator. Bootstrap
// runs on the calling goroutine only, so every page initially lands on
// whichever processor's list that goroutine maps to.
func NewPageAllocator(kernelEnd, physTop uint64, ncpus int) *PageAllocator {
	a := &PageAllocator{
		mem:       make([]byte, physTop),
		kernelEnd: kernelEnd,
		physTop:   physTop,
		cpus:      make([]freeList, ncpus),
	}

	for i := range a.cpus {
		a.cpus[i].head = NO_PAGE
	}

	for p := pageRoundUp(kernelEnd); p+PAGE_SIZE <= physTop; p += PAGE_SIZE {
		a.Free(p)
	}

	return a
}

// Alloc returns the address of a page of physical memory, preferring the
// current processor's free list and stealing from the others when it is
// empty. Exhaustion is recoverable: the caller gets ErrOutOfMemory, not a
// kernel fault.
func (a *PageAllocator) Alloc() (uint64, error) {
	cpu := a.currentCPU()

	addr := a.pop(cpu)
	if addr == NO_PAGE {
		for i := range a.cpus {
			if i == cpu {
				continue
			}
			if addr = a.pop(i); addr != NO_PAGE {
				util.Debug("cpu %d free list empty, stole page %#x from cpu %d", cpu, addr, i)
				break
			}
		}
	}

	if addr == NO_PAGE {
		return NO_PAGE, ErrOutOfMemory
	}

	fill(a.Page(addr), allocJunk)
	return addr, nil
}

// Free pushes the page at addr onto the current processor's free list. The
// page itself stores the list link, freed memory doubles as the metadata.
func (a *PageAllocator) Free(addr uint64) {
	a.check(addr)

	page := a.Page(addr)
	fill(page, freedJunk)

	fl := &a.cpus[a.currentCPU()]
	fl.lock.Acquire()
	binary.LittleEndian.PutUint64(page[:8], fl.head)
	fl.head = addr
	fl.lock.Release()
}

// Page returns the backing memory of the page at addr.
func (a *PageAllocator) Page(addr uint64) []byte {
	a.check(addr)
	return a.mem[addr : addr+PAGE_SIZE]
}

func (a *PageAllocator) pop(cpu int) uint64 {
	fl := &a.cpus[cpu]
	fl.lock.Acquire()
	defer fl.lock.Release()

	addr := fl.head
	if addr != NO_PAGE {
		fl.head = binary.LittleEndian.Uint64(a.mem[addr : addr+8])
	}
	return addr
}

func (a *PageAllocator) check(addr uint64) {
	if addr%PAGE_SIZE != 0 || addr < a.kernelEnd || addr >= a.physTop {
		util.Fatalf("page allocator: invalid physical address %#x", addr)
	}
}

// currentCPU resolves the calling goroutine's processor. The OS thread is
// locked for the duration of the lookup so the id cannot go stale mid-read;
// it only has to be a valid list index, the spin locks do the rest.
func (a *PageAllocator) currentCPU() int {
	if a.cpuid != nil {
		return a.cpuid()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cpu, _, err := unix.Getcpu()
	if err != nil {
		return 0
	}
	return cpu % len(a.cpus)
}

func pageRoundUp(addr uint64) uint64 {
	return (addr + PAGE_SIZE - 1) / PAGE_SIZE * PAGE_SIZE
}

func fill(page []byte, junk byte) {
	for i := range page {
		page[i] = junk
	}
}

// freeList is one processor's LIFO stack of free pages, threaded through the
// first word of the pages themselves.
type freeList struct {
	lock lock.SpinLock
	head uint64
}

// PageAllocator is the per-processor physical page allocator. The arena
// stands in for physical memory; addresses are byte offsets into it.
type PageAllocator struct {
	mem       []byte
	kernelEnd uint64
	physTop   uint64
	cpus      []freeList

	// overridable processor lookup, tests pin it for determinism
	cpuid func() int
}
