// Package mathx holds the integer-only helpers the simulation uses.
// Nothing here may depend on floating point, map order or wall-clock time.
package mathx

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func MaxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Chebyshev is the 8-neighbour grid distance.
func Chebyshev(ax, ay, bx, by int) int {
	return MaxInt(AbsInt(ax-bx), AbsInt(ay-by))
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Hash2 is a seeded, position-keyed hash used for terrain generation.
func Hash2(seed int64, x, y int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// Hash3 mixes three 64-bit keys under a seed. Combat rolls key it with
// (turn, attacker, defender) so the outcome is fixed by match content.
func Hash3(seed int64, a, b, c uint64) uint64 {
	v := uint64(seed) ^ (a * 0x9e3779b97f4a7c15) ^ (b * 0xc2b2ae3d27d4eb4f) ^ (c * 0xbf58476d1ce4e5b9)
	return mix64(mix64(v) ^ c)
}

// Permille maps a hash onto [0, 1000).
func Permille(h uint64) int {
	return int(h % 1000)
}
