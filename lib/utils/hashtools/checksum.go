package hashtools

import (
	"hash"

	"github.com/minio/highwayhash"
)

// Checksum is fast keyed 64bit checksum for integrity reports.
// It isn't suitable for content addressing.
type Checksum struct {
	key [32]byte
}

func NewChecksum(key []byte) (*Checksum, error) {
	c := &Checksum{}
	if len(key) > len(c.key) {
		key = key[:len(c.key)]
	}
	copy(c.key[:], key)
	// check key size once so that New can't fail
	if _, e := highwayhash.New64(c.key[:]); e != nil {
		return nil, e
	}
	return c, nil
}

func (c *Checksum) New() hash.Hash64 {
	h, _ := highwayhash.New64(c.key[:])
	return h
}
