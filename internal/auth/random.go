package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// RandomSource supplies the randomness behind delays and accept decisions.
// Implementations must be safe for concurrent use.
type RandomSource interface {
	// Int63n returns a value in [0, n). It returns 0 when n <= 0.
	Int63n(n int64) int64
	// Float64 returns a value in [0, 1)
	Float64() float64
}

// CryptoSource is the default RandomSource, backed by crypto/rand
type CryptoSource struct{}

// cryptoRandUint64 reads 8 random bytes. On read failure it returns 0, which
// biases toward the shortest delay and a reject decision.
func cryptoRandUint64() uint64 {
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(randomBytes)
}

func (CryptoSource) Int63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return int64(cryptoRandUint64() % uint64(n))
}

func (CryptoSource) Float64() float64 {
	// 53 significant bits, the precision of a float64 mantissa
	return float64(cryptoRandUint64()>>11) / (1 << 53)
}

// UniformDuration draws a duration uniformly from [min, max] inclusive, at
// millisecond granularity. A range with max <= min yields min.
func UniformDuration(src RandomSource, min, max time.Duration) time.Duration {
	minMs := min.Milliseconds()
	maxMs := max.Milliseconds()
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+src.Int63n(maxMs-minMs+1)) * time.Millisecond
}
