// Package bits implements the bit-level primitives used by H.264 syntax
// parsing: single-bit and fixed-width field access, Exp-Golomb codes, and
// the 00 00 03 emulation-prevention escape.
package bits

import "errors"

// ErrOverrun is returned when a read runs past the end of the buffer.
var ErrOverrun = errors.New("bits: read past end of buffer")

// Reader reads bit fields from a byte buffer, MSB first.
type Reader struct {
	data []byte
	pos  int   // byte index
	mask uint8 // current bit mask, 0x80 .. 0x01
}

// NewReader creates a Reader over data. The buffer is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, mask: 0x80}
}

// ReadBit reads a single bit.
func (r *Reader) ReadBit() (uint, error) {
	if r.pos >= len(r.data) {
		return 0, ErrOverrun
	}
	var v uint
	if r.data[r.pos]&r.mask != 0 {
		v = 1
	}
	r.mask >>= 1
	if r.mask == 0 {
		r.mask = 0x80
		r.pos++
	}
	return v, nil
}

// ReadBits reads an n-bit unsigned field (n <= 32).
func (r *Reader) ReadBits(n int) (uint, error) {
	var v uint
	for i := 0; i < n; i++ {
		b, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

// ReadUE reads an unsigned Exp-Golomb code.
func (r *Reader) ReadUE() (uint, error) {
	zeros := 0
	for {
		b, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if b != 0 {
			break
		}
		zeros++
	}
	if zeros == 0 {
		return 0, nil
	}
	rest, err := r.ReadBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << uint(zeros)) - 1 + rest, nil
}

// ReadSE reads a signed Exp-Golomb code.
func (r *Reader) ReadSE() (int, error) {
	ue, err := r.ReadUE()
	if err != nil {
		return 0, err
	}
	v := int((ue + 1) / 2)
	if ue%2 == 0 {
		v = -v
	}
	return v, nil
}

// SkipBits discards n bits.
func (r *Reader) SkipBits(n int) error {
	_, err := r.ReadBits(n)
	return err
}

// SkipUE discards one unsigned Exp-Golomb code.
func (r *Reader) SkipUE() error {
	_, err := r.ReadUE()
	return err
}

// SkipSE discards one signed Exp-Golomb code.
func (r *Reader) SkipSE() error {
	_, err := r.ReadSE()
	return err
}

// ByteAligned reports whether the read position is on a byte boundary.
func (r *Reader) ByteAligned() bool {
	return r.mask == 0x80
}

// BitOffset returns the number of bits consumed so far.
func (r *Reader) BitOffset() int {
	used := 0
	for m := uint8(0x80); m != r.mask; m >>= 1 {
		used++
	}
	return r.pos*8 + used
}

// Writer assembles a bitstream, MSB first.
type Writer struct {
	data []byte
	n    int // bits used in the last byte, 0..7 (0 = aligned)
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteBit appends a single bit.
func (w *Writer) WriteBit(b uint) {
	if w.n == 0 {
		w.data = append(w.data, 0)
	}
	if b != 0 {
		w.data[len(w.data)-1] |= 0x80 >> uint(w.n)
	}
	w.n = (w.n + 1) % 8
}

// WriteBits appends the low n bits of v, MSB first.
func (w *Writer) WriteBits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(v >> uint(i) & 1)
	}
}

// WriteUE appends v as an unsigned Exp-Golomb code.
func (w *Writer) WriteUE(v uint) {
	lead := 0
	for x := v + 1; x > 1; x >>= 1 {
		lead++
	}
	w.WriteBits(0, lead)
	w.WriteBits(v+1, lead+1)
}

// WriteSE appends v as a signed Exp-Golomb code.
func (w *Writer) WriteSE(v int) {
	var ue uint
	if v > 0 {
		ue = uint(2*v - 1)
	} else {
		ue = uint(-2 * v)
	}
	w.WriteUE(ue)
}

// AlignZero pads with zero bits up to the next byte boundary.
func (w *Writer) AlignZero() {
	for w.n != 0 {
		w.WriteBit(0)
	}
}

// WriteTrailingBits appends the rbsp_stop_one_bit and zero padding.
func (w *Writer) WriteTrailingBits() {
	w.WriteBit(1)
	w.AlignZero()
}

// BitLen returns the number of bits written so far.
func (w *Writer) BitLen() int {
	if w.n == 0 {
		return len(w.data) * 8
	}
	return (len(w.data)-1)*8 + w.n
}

// Bytes returns the assembled buffer. Unfinished trailing bits are
// zero-padded in place; call AlignZero first when that matters.
func (w *Writer) Bytes() []byte {
	return w.data
}

// InsertEmulationPrevention escapes 00 00 {00,01,02,03} sequences in an
// RBSP by inserting the 0x03 emulation-prevention byte, producing a legal
// NAL payload body.
func InsertEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/16)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// RemoveEmulationPrevention strips 0x03 emulation-prevention bytes,
// recovering the RBSP from a NAL payload body.
func RemoveEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
