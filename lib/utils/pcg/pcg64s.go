package pcg

// PCG64s is PCG generator with 128 bit state, single stream
// (fixed increment) and 64 bit XSL-RR output.
// See http://www.pcg-random.org for details.
// It's not safe for concurrent use.

import "math/bits"

type uint128 struct {
	hi, lo uint64
}

func (x uint128) add(y uint128) uint128 {
	lo, c := bits.Add64(x.lo, y.lo, 0)
	hi, _ := bits.Add64(x.hi, y.hi, c)
	return uint128{hi, lo}
}

func (x uint128) mul(y uint128) uint128 {
	hi, lo := bits.Mul64(x.lo, y.lo)
	hi += x.hi*y.lo + x.lo*y.hi
	return uint128{hi, lo}
}

func (x uint128) neg() uint128 {
	return uint128{^x.hi, ^x.lo}.add(uint128{0, 1})
}

func (x uint128) isZero() bool {
	return x.hi == 0 && x.lo == 0
}

var (
	multiplier  = uint128{0x2360ed051fc65da4, 0x4385df649fccf645}
	increment   = uint128{0x5851f42d4c957f2d, 0x14057b7ef767814f}
	initializer = uint128{0xb8dc10e158a92392, 0x98046df007ec0a53}
)

type PCG64s struct {
	state uint128
}

func NewPCG64s() PCG64s {
	return PCG64s{state: initializer}
}

func (p *PCG64s) Seed(hi, lo uint64) {
	p.state = uint128{hi, lo}.add(increment).mul(multiplier).add(increment)
}

func (p *PCG64s) Random() uint64 {
	p.state = p.state.mul(multiplier).add(increment)
	return bits.RotateLeft64(p.state.hi^p.state.lo, -int(p.state.hi>>58))
}

// Bounded returns uniformly distributed number in [0, bound).
func (p *PCG64s) Bounded(bound uint64) uint64 {
	if bound == 0 {
		return 0
	}
	threshold := -bound % bound
	for {
		r := p.Random()
		if r >= threshold {
			return r % bound
		}
	}
}

// Advance jumps delta steps ahead in O(log delta).
func (p *PCG64s) Advance(hi, lo uint64) {
	delta := uint128{hi, lo}
	accMul, accAdd := uint128{0, 1}, uint128{}
	curMul, curAdd := multiplier, increment
	for !delta.isZero() {
		if delta.lo&1 != 0 {
			accMul = accMul.mul(curMul)
			accAdd = accAdd.mul(curMul).add(curAdd)
		}
		curAdd = curAdd.mul(curMul.add(uint128{0, 1}))
		curMul = curMul.mul(curMul)
		delta = uint128{delta.hi >> 1, delta.hi<<63 | delta.lo>>1}
	}
	p.state = accMul.mul(p.state).add(accAdd)
}

// Retreat steps back by delta.
func (p *PCG64s) Retreat(hi, lo uint64) {
	d := uint128{hi, lo}.neg()
	p.Advance(d.hi, d.lo)
}
