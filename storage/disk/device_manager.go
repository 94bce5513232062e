package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const BLOCK_SIZE = 1024

var ErrNoDevice = errors.New("no such device")

// BlockRW is the synchronous block transfer surface the buffer cache consumes.
// An implementation moves exactly one block between data and the device,
// blocking the caller until the transfer completes.
type BlockRW interface {
	RW(dev uint32, blockno uint64, data []byte, write bool) error
}

func NewManager() *Manager {
	return &Manager{
		devices: map[uint32]*os.File{},
	}
}

// Attach registers file as the backing store for device dev, replacing any
// previous registration.
func (m *Manager) Attach(dev uint32, file *os.File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[dev] = file
}

func (m *Manager) Detach(dev uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, dev)
}

func (m *Manager) RW(dev uint32, blockno uint64, data []byte, write bool) error {
	m.mu.RLock()
	file, ok := m.devices[dev]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("device %d: %w", dev, ErrNoDevice)
	}

	offset := int64(blockno) * BLOCK_SIZE
	if write {
		if _, err := file.WriteAt(data, offset); err != nil {
			return fmt.Errorf("error writing block %d at offset %d: %v", blockno, offset, err)
		}
		return nil
	}

	n, err := file.ReadAt(data, offset)
	if err == io.EOF {
		// a block past the written extent reads as zeroes
		clear(data[n:])
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading block %d at offset %d: %v", blockno, offset, err)
	}

	return nil
}

// Manager backs numbered block devices with ordinary files. Block n of a
// device lives at byte offset n*BLOCK_SIZE in its file.
type Manager struct {
	mu      sync.RWMutex
	devices map[uint32]*os.File
}
