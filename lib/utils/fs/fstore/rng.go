package fstore

import (
	crand "crypto/rand"
	"encoding/binary"
	"os"
	"strconv"
	"sync"
	"time"

	"partsrv/lib/utils/pcg"
)

// suffix generator for unique file names, shared by all stores
var (
	rng     pcg.PCG64s
	rngInit bool
	rngMu   sync.Mutex
)

func reseedLocked() {
	var b [16]byte
	if _, e := crand.Read(b[:]); e != nil {
		panic(e.Error())
	}
	hi := binary.BigEndian.Uint64(b[:8]) + uint64(os.Getpid())
	lo := binary.BigEndian.Uint64(b[8:]) + uint64(time.Now().UnixNano())
	rng.Seed(hi, lo)
	rngInit = true
}

func reseed() {
	rngMu.Lock()
	reseedLocked()
	rngMu.Unlock()
}

// nextSuffix returns 18 random decimal digits
func nextSuffix() string {
	rngMu.Lock()
	if !rngInit {
		reseedLocked()
	}
	x := rng.Bounded(1e18)
	rngMu.Unlock()
	return strconv.FormatUint(1e18+x, 10)[1:]
}
