// Package erasure implements the erasure coding the archiver uses to turn
// recorded history into a segment of data and parity pieces: a genuine
// GF(2^8) Reed-Solomon code, following the evaluation/interpolation scheme
// of a textbook RS encoder — every shard, data or parity, is one
// polynomial evaluated at a distinct field element, so any dataShards of
// the (dataShards+parityShards) total shards suffice to recover the rest.
package erasure

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidShardConfig is returned for non-positive shard counts.
	ErrInvalidShardConfig = errors.New("erasure: invalid shard configuration")
	// ErrTooManyShards is returned when dataShards+parityShards exceeds the
	// number of distinct elements in GF(2^8).
	ErrTooManyShards = errors.New("erasure: total shards exceed GF(2^8) field size")
	// ErrTooFewShards is returned when reconstruction lacks enough shards.
	ErrTooFewShards = errors.New("erasure: insufficient shards for reconstruction")
	// ErrShardSizeMismatch is returned when shards are not uniformly sized.
	ErrShardSizeMismatch = errors.New("erasure: shard sizes are not uniform")
	// ErrShardCountMismatch is returned when the shard slice has the wrong length.
	ErrShardCountMismatch = errors.New("erasure: shard count mismatch")
)

// maxShards is the number of distinct elements in GF(2^8): a classical
// Reed-Solomon code needs one evaluation point per shard, so this bounds
// dataShards+parityShards. Unlike an encoder restricted to the 255 non-zero
// powers of a generator, evalPoint below walks every field element
// (including zero), so a full 256-shard code is representable — needed for
// a segment's 128 data + 128 parity split.
const maxShards = 256

const (
	gfModulus = 0x11D // x^8 + x^4 + x^3 + x^2 + 1
	gfOrder   = 255   // 2^8 - 1
)

var (
	logTbl   [256]uint8
	expTbl   [512]uint8
	initOnce sync.Once
)

// initTables precomputes GF(2^8) log/exp tables from the generator 2 under
// the primitive polynomial 0x11D, the same construction as a standard
// table-based Galois field implementation.
func initTables() {
	initOnce.Do(func() {
		var x uint16 = 1
		for i := 0; i < gfOrder; i++ {
			expTbl[i] = uint8(x)
			logTbl[x] = uint8(i)
			x <<= 1
			if x&0x100 != 0 {
				x ^= gfModulus
			}
		}
		for i := 0; i < gfOrder; i++ {
			expTbl[i+gfOrder] = expTbl[i]
		}
	})
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	initTables()
	sum := int(logTbl[a]) + int(logTbl[b])
	if sum >= gfOrder {
		sum -= gfOrder
	}
	return expTbl[sum]
}

func gfDiv(a, b byte) byte {
	if b == 0 {
		panic("erasure: division by zero in GF(2^8)")
	}
	if a == 0 {
		return 0
	}
	initTables()
	diff := int(logTbl[a]) - int(logTbl[b])
	if diff < 0 {
		diff += gfOrder
	}
	return expTbl[diff]
}

// evalPoint returns the i-th Reed-Solomon evaluation point. Walking every
// field element (0, 1, 2, ...) rather than only the powers of a generator
// gives maxShards (256) distinct points instead of 255.
func evalPoint(i int) byte {
	return byte(i)
}

// polyEval evaluates a polynomial (coeffs[0] is the constant term) at x via
// Horner's method.
func polyEval(coeffs []byte, x byte) byte {
	if len(coeffs) == 0 {
		return 0
	}
	result := coeffs[len(coeffs)-1]
	for i := len(coeffs) - 2; i >= 0; i-- {
		result = gfMul(result, x) ^ coeffs[i]
	}
	return result
}

// polyMul multiplies two polynomials over GF(2^8).
func polyMul(p1, p2 []byte) []byte {
	if len(p1) == 0 || len(p2) == 0 {
		return nil
	}
	out := make([]byte, len(p1)+len(p2)-1)
	for i, a := range p1 {
		if a == 0 {
			continue
		}
		for j, b := range p2 {
			out[i+j] ^= gfMul(a, b)
		}
	}
	return out
}

// interpolate performs Lagrange interpolation over GF(2^8): given n points
// (xs[i], ys[i]) with distinct xs, it returns the unique polynomial of
// degree < n passing through all of them.
func interpolate(xs, ys []byte) []byte {
	n := len(xs)
	result := make([]byte, n)
	for i := 0; i < n; i++ {
		denom := byte(1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			denom = gfMul(denom, xs[i]^xs[j])
		}
		factor := gfDiv(ys[i], denom)

		basis := []byte{1}
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			basis = polyMul(basis, []byte{xs[j], 1})
		}
		for k := 0; k < len(basis) && k < n; k++ {
			result[k] ^= gfMul(basis[k], factor)
		}
	}
	return result
}

// Encode splits data into dataShards equal-size coefficient groups
// (zero-padded as needed) and produces dataShards+parityShards output
// shards. For each byte position, the dataShards input bytes form the
// coefficients of a degree-(dataShards-1) polynomial, which is evaluated at
// every one of the total output shards' evaluation points, including the
// first dataShards. Shard 0 is evaluated at point 0 and therefore equals the
// first coefficient group verbatim; the other shards are not raw input. Any
// dataShards of the resulting shards (in any combination of data and
// parity) suffice to recover the original data via Decode.
func Encode(data []byte, dataShards, parityShards int) ([][]byte, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, ErrInvalidShardConfig
	}
	total := dataShards + parityShards
	if total > maxShards {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyShards, total, maxShards)
	}

	shardSize := (len(data) + dataShards - 1) / dataShards
	if shardSize == 0 {
		shardSize = 1
	}
	padded := make([]byte, shardSize*dataShards)
	copy(padded, data)

	shards := make([][]byte, total)
	for i := range shards {
		shards[i] = make([]byte, shardSize)
	}

	coeffs := make([]byte, dataShards)
	for b := 0; b < shardSize; b++ {
		for d := 0; d < dataShards; d++ {
			coeffs[d] = padded[d*shardSize+b]
		}
		for s := 0; s < total; s++ {
			shards[s][b] = polyEval(coeffs, evalPoint(s))
		}
	}
	return shards, nil
}

// Decode reconstructs the original data given a set of shards with missing
// ones set to nil. It interpolates the degree-(dataShards-1) polynomial
// from any dataShards surviving shards (data or parity, in any
// combination) and takes the interpolated coefficients directly as the
// recovered bytes, since those coefficients were the original input. Returns ErrTooFewShards
// if fewer than dataShards shards survive — the genuine Reed-Solomon bound,
// tolerating the loss of up to parityShards shards total, not just one.
func Decode(shards [][]byte, dataShards, parityShards int) ([]byte, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, ErrInvalidShardConfig
	}
	total := dataShards + parityShards
	if len(shards) != total {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShardCountMismatch, len(shards), total)
	}

	shardSize := 0
	var survivingIdx []int
	for i, s := range shards {
		if s == nil {
			continue
		}
		if shardSize == 0 {
			shardSize = len(s)
		} else if len(s) != shardSize {
			return nil, ErrShardSizeMismatch
		}
		survivingIdx = append(survivingIdx, i)
	}
	if len(survivingIdx) < dataShards {
		return nil, ErrTooFewShards
	}
	if shardSize == 0 {
		return nil, ErrTooFewShards
	}
	survivingIdx = survivingIdx[:dataShards]
	ptXs := make([]byte, dataShards)
	for i, idx := range survivingIdx {
		ptXs[i] = evalPoint(idx)
	}

	out := make([]byte, dataShards*shardSize)
	ptYs := make([]byte, dataShards)
	for b := 0; b < shardSize; b++ {
		for i, idx := range survivingIdx {
			ptYs[i] = shards[idx][b]
		}
		coeffs := interpolate(ptXs, ptYs)
		for d := 0; d < dataShards; d++ {
			var c byte
			if d < len(coeffs) {
				c = coeffs[d]
			}
			out[d*shardSize+b] = c
		}
	}
	return out, nil
}
