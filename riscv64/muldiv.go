package riscv64

import "math/bits"

func mulh64(a, b int64) uint64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	// Correct the unsigned high word for signed operands.
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return hi
}

func mulhu64(a, b uint64) uint64 {
	hi, _ := bits.Mul64(a, b)
	return hi
}

func mulhsu64(a int64, b uint64) uint64 {
	hi, _ := bits.Mul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return hi
}

func divS64(a, b int64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	if a == -1<<63 && b == -1 {
		return uint64(a)
	}
	return uint64(a / b)
}

func divU64(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func remS64(a, b int64) uint64 {
	if b == 0 {
		return uint64(a)
	}
	if a == -1<<63 && b == -1 {
		return 0
	}
	return uint64(a % b)
}

func remU64(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func divS32(a, b int32) uint32 {
	if b == 0 {
		return ^uint32(0)
	}
	if a == -1<<31 && b == -1 {
		return uint32(a)
	}
	return uint32(a / b)
}

func divU32(a, b uint32) uint32 {
	if b == 0 {
		return ^uint32(0)
	}
	return a / b
}

func remS32(a, b int32) uint32 {
	if b == 0 {
		return uint32(a)
	}
	if a == -1<<31 && b == -1 {
		return 0
	}
	return uint32(a % b)
}

func remU32(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}
