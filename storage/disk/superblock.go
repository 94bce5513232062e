package disk

import (
	"fmt"

	"github.com/vmihailenco/msgpack"
)

const SUPER_MAGIC = 0x10203040

// Superblock is the geometry header a formatted device keeps in block 0.
type Superblock struct {
	Magic     uint32
	BlockSize uint32
	NBlocks   uint64
}

// Format stamps dev with a superblock.
func (m *Manager) Format(dev uint32, sb Superblock) error {
	sb.Magic = SUPER_MAGIC
	sb.BlockSize = BLOCK_SIZE

	data, err := msgpack.Marshal(sb)
	if err != nil {
		return fmt.Errorf("error encoding superblock: %v", err)
	}

	block := make([]byte, BLOCK_SIZE)
	copy(block, data)

	return m.RW(dev, 0, block, true)
}

// Superblock reads back the header written by Format.
func (m *Manager) Superblock(dev uint32) (Superblock, error) {
	block := make([]byte, BLOCK_SIZE)
	if err := m.RW(dev, 0, block, false); err != nil {
		return Superblock{}, err
	}

	var sb Superblock
	if err := msgpack.Unmarshal(block, &sb); err != nil {
		return Superblock{}, fmt.Errorf("error decoding superblock: %v", err)
	}

	if sb.Magic != SUPER_MAGIC {
		return Superblock{}, fmt.Errorf("device %d is not formatted", dev)
	}

	return sb, nil
}
