package util

import (
	"github.com/jobala/kcore/storage/disk"
	"github.com/vmihailenco/msgpack"
)

// ToBlock packs obj into a full disk block, zero padded to disk.BLOCK_SIZE.
func ToBlock[T any](obj T) ([]byte, error) {
	res := make([]byte, disk.BLOCK_SIZE)

	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}
	copy(res, data)

	return res, nil
}

// FromBlock decodes a value previously packed with ToBlock.
func FromBlock[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}

	return res, nil
}
