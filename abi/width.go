package abi

import (
	"fmt"
	"math/big"
)

// Tier selects the accessor family for a signal width.
type Tier uint8

const (
	Tier32   Tier = iota // width <= 32, one uint32
	Tier64               // width <= 64, one uint64
	TierWide             // width > 64, ceil(width/32) uint32 words
)

// TierOf returns the accessor tier for width.
func TierOf(width int) Tier {
	switch {
	case width <= 32:
		return Tier32
	case width <= 64:
		return Tier64
	default:
		return TierWide
	}
}

// Words returns the number of 32-bit words a wide signal occupies.
func Words(width int) int {
	return (width + 31) / 32
}

// Mask truncates v to its low width bits. Negative values are taken in
// two's complement.
func Mask(v *big.Int, width int) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), uint(width))
	m.Sub(m, big.NewInt(1))
	return m.And(m, v)
}

// SplitWords splits a non-negative value into n little-endian 32-bit words.
func SplitWords(v *big.Int, n int) []uint32 {
	words := make([]uint32, n)
	t := new(big.Int).Set(v)
	lo := new(big.Int)
	mask := big.NewInt(0xffffffff)
	for i := 0; i < n; i++ {
		lo.And(t, mask)
		words[i] = uint32(lo.Uint64())
		t.Rsh(t, 32)
	}
	return words
}

// JoinWords assembles little-endian 32-bit words into a value.
func JoinWords(words []uint32) *big.Int {
	v := new(big.Int)
	w := new(big.Int)
	for i := len(words) - 1; i >= 0; i-- {
		v.Lsh(v, 32)
		v.Or(v, w.SetUint64(uint64(words[i])))
	}
	return v
}

// Read fetches the value of signal idx through the tier's accessor.
func Read(lib Library, m Model, idx, width int) (*big.Int, error) {
	switch TierOf(width) {
	case Tier32:
		v, err := lib.Get32(m, idx)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetUint64(uint64(v)), nil
	case Tier64:
		v, err := lib.Get64(m, idx)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetUint64(v), nil
	default:
		n := Words(width)
		words := make([]uint32, n)
		for i := 0; i < n; i++ {
			w, err := lib.GetWord(m, idx, i)
			if err != nil {
				return nil, err
			}
			words[i] = w
		}
		return JoinWords(words), nil
	}
}

// Write masks v to width and stores it through the tier's setter.
func Write(lib Library, m Model, idx, width int, v *big.Int) error {
	v = Mask(v, width)
	switch TierOf(width) {
	case Tier32:
		return lib.Set32(m, idx, uint32(v.Uint64()))
	case Tier64:
		return lib.Set64(m, idx, v.Uint64())
	default:
		for i, w := range SplitWords(v, Words(width)) {
			if err := lib.SetWord(m, idx, i, w); err != nil {
				return err
			}
		}
		return nil
	}
}

// FormatHex renders v as a Verilog sized hex literal, e.g. 8'haa.
func FormatHex(v *big.Int, width int) string {
	return fmt.Sprintf("%d'h%x", width, v)
}
