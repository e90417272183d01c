package hashtools

import (
	"crypto/sha256"
	"io"
	"strings"
	"testing"

	"github.com/zeebo/blake3"
)

type zeroreader struct {
	n int64
}

var zbuf [65536]byte

func (r *zeroreader) Read(b []byte) (n int, e error) {
	if int64(len(b)) > r.n {
		b = b[:r.n]
	}
	n = copy(b, zbuf[:])
	r.n -= int64(n)
	if r.n == 0 {
		e = io.EOF
	}
	return
}

const (
	sizebigg = iota
	sizesmol
)

var sizes = [...]int64{4 << 20, 16 << 10}

var hexp = [...][hashTypeMax]string{
	sizebigg: {
		"ms0bmq9elpsvml0zh5klbwjcl5fbevm3uxigmyeabcs5", // SHA2-224
		"banl818ny8i178t8z7x93fwo51c5zumjmr8mb5v6bcm6", // BLAKE2b-224
		"9ye8a31d0pffo0hsn6dp48psp5sk6jteiqhzagjt3hr9", // BLAKE3
	},
	sizesmol: {
		"scdpymqbxyn8zwgrevmz7227jhzipuwa6d94dsp10pf4", // SHA2-224
		"1qvyte14cv8a0qyu4s8k2miv0600ggd2okv9r11gbfw8", // BLAKE2b-224
		"9f34195rc24ar3xzdsy00wn42fani1c1zupo6jk7a1x9", // BLAKE3
	},
}

func doxtest(t *testing.T, ht HashType, sizeidx int) {
	got, _, e := MakeCustomFileHash(&zeroreader{sizes[sizeidx]}, ht)
	if e != nil {
		t.Fatalf("MakeCustomFileHash err: %v", e)
	}
	if exp := hexp[sizeidx][ht-1]; exp != got {
		t.Errorf("%v: exp %q != got %q", ht, exp, got)
	}
}

func doxbench(b *testing.B, ht HashType, sizeidx int) {
	b.SetBytes(sizes[sizeidx])
	for i := 0; i < b.N; i++ {
		if _, _, e := MakeCustomFileHash(&zeroreader{sizes[sizeidx]}, ht); e != nil {
			b.Fatalf("MakeCustomFileHash err: %v", e)
		}
	}
}

func TestHashSHA2_224(t *testing.T) {
	doxtest(t, SHA2_224, sizesmol)
}
func TestHashBLAKE2b_224(t *testing.T) {
	doxtest(t, BLAKE2b_224, sizesmol)
}
func TestHashBLAKE3_224(t *testing.T) {
	doxtest(t, BLAKE3_224, sizesmol)
}

func TestRawHash(t *testing.T) {
	in := "some uploaded content"
	_, h, e := MakeCustomFileHash(strings.NewReader(in), SHA2_224)
	if e != nil {
		t.Fatalf("MakeCustomFileHash: %v", e)
	}
	if exp := sha256.Sum224([]byte(in)); h != exp {
		t.Errorf("SHA2_224 raw hash mismatch: %x != %x", h, exp)
	}
	_, h, e = MakeCustomFileHash(strings.NewReader(in), BLAKE3_224)
	if e != nil {
		t.Fatalf("MakeCustomFileHash: %v", e)
	}
	b3 := blake3.Sum256([]byte(in))
	if string(h[:]) != string(b3[:HashLength]) {
		t.Errorf("BLAKE3_224 raw hash mismatch: %x != %x", h, b3[:HashLength])
	}
}

func TestDefaultHash(t *testing.T) {
	defer SetDefaultHashType(autoHashType())

	SetDefaultHashType(BLAKE2b_224)
	got, e := MakeFileHash(&zeroreader{sizes[sizesmol]})
	if e != nil {
		t.Fatalf("MakeFileHash: %v", e)
	}
	if got != hexp[sizesmol][BLAKE2b_224-1] {
		t.Errorf("unexpected default hash %q", got)
	}
	// pooled contexts must be reset
	again, _ := MakeFileHash(&zeroreader{sizes[sizesmol]})
	if again != got {
		t.Errorf("second hash differs: %q != %q", again, got)
	}
}

func TestParseHashType(t *testing.T) {
	for _, ht := range []HashType{SHA2_224, BLAKE2b_224, BLAKE3_224} {
		p, e := ParseHashType(strings.ToUpper(ht.String()))
		if e != nil || p != ht {
			t.Errorf("ParseHashType(%q): %v %v", ht.String(), p, e)
		}
	}
	if p, e := ParseHashType("auto"); e != nil || p != autoHashType() {
		t.Errorf("ParseHashType(auto): %v %v", p, e)
	}
	if _, e := ParseHashType("md5"); e == nil {
		t.Errorf("ParseHashType accepted md5")
	}
}

func TestChecksum(t *testing.T) {
	c, e := NewChecksum([]byte("key"))
	if e != nil {
		t.Fatalf("NewChecksum: %v", e)
	}
	h1 := c.New()
	io.WriteString(h1, "abc")
	h2 := c.New()
	io.WriteString(h2, "ab")
	io.WriteString(h2, "c")
	if h1.Sum64() != h2.Sum64() {
		t.Errorf("checksum depends on write split")
	}
	c2, _ := NewChecksum([]byte("other key"))
	h3 := c2.New()
	io.WriteString(h3, "abc")
	if h3.Sum64() == h1.Sum64() {
		t.Errorf("checksum doesn't depend on key")
	}
}

func BenchmarkHashSHA2_224_Bigg(b *testing.B) {
	doxbench(b, SHA2_224, sizebigg)
}
func BenchmarkHashBLAKE2b_224_Bigg(b *testing.B) {
	doxbench(b, BLAKE2b_224, sizebigg)
}
func BenchmarkHashBLAKE3_224_Bigg(b *testing.B) {
	doxbench(b, BLAKE3_224, sizebigg)
}

func BenchmarkChecksumBigg(b *testing.B) {
	c, _ := NewChecksum(nil)
	b.SetBytes(sizes[sizebigg])
	for i := 0; i < b.N; i++ {
		h := c.New()
		io.Copy(h, &zeroreader{sizes[sizebigg]})
		_ = h.Sum64()
	}
}
