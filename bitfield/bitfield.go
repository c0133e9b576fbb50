// Package bitfield provides the piece-index bit vector used across the
// engine, with BEP-3 network-order serialization (bit 7 of byte 0 is
// piece 0).
package bitfield

import (
	bitmap "github.com/boljen/go-bitmap"
)

type Bitfield struct {
	count int
	bm    bitmap.Bitmap
}

func New(count int) *Bitfield {
	return &Bitfield{
		count: count,
		bm:    bitmap.New(count),
	}
}

// FromBytes rebuilds a bitfield from its wire form. Bytes beyond count bits
// are ignored.
func FromBytes(data []byte, count int) *Bitfield {
	bf := New(count)
	for i := 0; i < count; i++ {
		byteIndex := i / 8
		if byteIndex >= len(data) {
			break
		}
		if data[byteIndex]&(0x80>>uint(i%8)) != 0 {
			bf.bm.Set(i, true)
		}
	}
	return bf
}

func (bf *Bitfield) Count() int {
	return bf.count
}

// Get reports bit i; out-of-range reads return false.
func (bf *Bitfield) Get(i int) bool {
	if i < 0 || i >= bf.count {
		return false
	}
	return bf.bm.Get(i)
}

// Set marks bit i; out-of-range writes are a no-op.
func (bf *Bitfield) Set(i int) {
	if i < 0 || i >= bf.count {
		return
	}
	bf.bm.Set(i, true)
}

// Clear unmarks bit i; out-of-range writes are a no-op.
func (bf *Bitfield) Clear(i int) {
	if i < 0 || i >= bf.count {
		return
	}
	bf.bm.Set(i, false)
}

// Popcount returns the number of set bits.
func (bf *Bitfield) Popcount() int {
	n := 0
	for i := 0; i < bf.count; i++ {
		if bf.bm.Get(i) {
			n++
		}
	}
	return n
}

func (bf *Bitfield) All() bool {
	return bf.Popcount() == bf.count
}

// Bytes serializes to the wire form, big-endian bit order within each byte.
func (bf *Bitfield) Bytes() []byte {
	out := make([]byte, (bf.count+7)/8)
	for i := 0; i < bf.count; i++ {
		if bf.bm.Get(i) {
			out[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return out
}

func (bf *Bitfield) Copy() *Bitfield {
	out := New(bf.count)
	for i := 0; i < bf.count; i++ {
		if bf.bm.Get(i) {
			out.bm.Set(i, true)
		}
	}
	return out
}
