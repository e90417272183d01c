package hashtools

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/cpu"
)

const HashLength = 28

type HashType byte

const (
	_ HashType = iota // skip first to start with non-0

	SHA2_224    // can be faster if SHA2-256 crypto instructions are available
	BLAKE2b_224 // fastest on most 64bit CPUs without dedicated crypto instructions
	BLAKE3_224  // fastest on 32bit arm stuff (without SHA2 instructions) or AVX2 supporting stuff

	hashTypeMax = iota - 1
)

type hasher struct {
	name string
	new  func() hash.Hash
	pool sync.Pool
}

var hashers = [hashTypeMax]hasher{
	{name: "sha2", new: sha256.New224},
	{name: "blake2b", new: func() hash.Hash { x, _ := blake2b.New(HashLength, nil); return x }},
	// 256 bit output, truncated
	{name: "blake3", new: func() hash.Hash { return blake3.New() }},
}

func (t HashType) String() string {
	if t == 0 || t > hashTypeMax {
		return fmt.Sprintf("HashType(%d)", byte(t))
	}
	return hashers[t-1].name
}

// ParseHashType parses hash name as used in configs. "auto" and ""
// pick type which is likely fastest on this CPU.
func ParseHashType(s string) (HashType, error) {
	s = strings.ToLower(s)
	if s == "" || s == "auto" {
		return autoHashType(), nil
	}
	for i := range hashers {
		if hashers[i].name == s {
			return HashType(i + 1), nil
		}
	}
	return 0, fmt.Errorf("unknown hash type %q", s)
}

type hashCtx struct {
	h       hash.Hash
	copyBuf *[32 * 1024]byte
	x       big.Int
	// 1 type byte + upto 32 hash bytes; also fits base36 form of 29 bytes (44 chars)
	strBuf [44]byte
}

func getHashCtx(t HashType) *hashCtx {
	hs := &hashers[t-1]
	c, _ := hs.pool.Get().(*hashCtx)
	if c != nil {
		c.h.Reset()
	} else {
		c = &hashCtx{
			h:       hs.new(),
			copyBuf: new([32 * 1024]byte),
		}
	}
	return c
}

func putHashCtx(t HashType, c *hashCtx) {
	hashers[t-1].pool.Put(c)
}

func autoHashType() HashType {
	// currently only ARM64 because pretty much guaranteed gain
	if cpu.ARM64.HasSHA2 {
		return SHA2_224
	}
	return BLAKE2b_224
}

var defaultHashType = autoHashType()

// SetDefaultHashType changes hash used by MakeFileHash.
// It's not safe to call concurrently with hashing.
func SetDefaultHashType(t HashType) {
	if t == 0 || t > hashTypeMax {
		panic("invalid hash type")
	}
	defaultHashType = t
}

// MakeFileHash returns textual representation of hash of r for use
// in filename, using default hash type.
func MakeFileHash(r io.Reader) (string, error) {
	s, _, e := MakeCustomFileHash(r, defaultHashType)
	return s, e
}

// MakeCustomFileHash hashes r with given hash type. Text form is base36
// number of type byte followed by hash, with digits reversed so that
// front ones are more variable.
func MakeCustomFileHash(r io.Reader, t HashType) (s string, h [HashLength]byte, e error) {
	c := getHashCtx(t)

	if _, e = io.CopyBuffer(c.h, r, c.copyBuf[:]); e != nil {
		return
	}
	c.strBuf[0] = byte(t)
	c.h.Sum(c.strBuf[1:1])
	copy(h[:], c.strBuf[1:])

	c.x.SetBytes(c.strBuf[:1+HashLength])
	xb := c.x.Append(c.strBuf[:0], 36)
	for i, j := 0, len(xb)-1; i < j; i, j = i+1, j-1 {
		xb[i], xb[j] = xb[j], xb[i]
	}
	s = string(xb)

	putHashCtx(t, c)
	return
}
