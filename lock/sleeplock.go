package lock

import (
	"sync"

	"github.com/jobala/kcore/util"
)

// NewSleepLock initializes the lock's condition variable. A zero SleepLock is
// not usable.
func NewSleepLock() *SleepLock {
	l := &SleepLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until the lock is free. Waiters yield the processor instead
// of spinning, so the lock may be held across slow operations like disk I/O.
func (l *SleepLock) Acquire() {
	l.mu.Lock()
	for l.locked {
		l.cond.Wait()
	}
	l.locked = true
	l.mu.Unlock()
}

func (l *SleepLock) Release() {
	l.mu.Lock()
	if !l.locked {
		l.mu.Unlock()
		util.Fatalf("sleeplock: release of unheld lock")
	}
	l.locked = false
	l.cond.Signal()
	l.mu.Unlock()
}

// Holding reports whether the lock is currently held.
func (l *SleepLock) Holding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// SleepLock is blocking mutual exclusion. Unlike SpinLock it parks waiters,
// making it the only place this kernel yields under contention.
type SleepLock struct {
	mu     sync.Mutex
	cond   *sync.Cond
	locked bool
}
