package lock

import (
	"sync"

	"github.com/jobala/kcore/util"
)

// SpinLock guards short critical sections: bucket chains, free lists, refcnt
// updates. Nothing blocking may run while one is held.
type SpinLock struct {
	mu   sync.Mutex
	held bool
}

func (l *SpinLock) Acquire() {
	l.mu.Lock()
	l.held = true
}

// TryAcquire acquires the lock if it is uncontended. The cross-bucket steal
// path uses it to avoid blocking on a second bucket lock.
func (l *SpinLock) TryAcquire() bool {
	if l.mu.TryLock() {
		l.held = true
		return true
	}
	return false
}

func (l *SpinLock) Release() {
	if !l.held {
		util.Fatalf("spinlock: release of unheld lock")
	}
	l.held = false
	l.mu.Unlock()
}
