// Package profile estimates per-file processing cost from size and a
// sampled-byte entropy signal. The cost score only drives dispatch ordering;
// it reserves no resources.
package profile

import "math"

const (
	// SampleLimit bounds the number of bytes fed into the entropy
	// histogram. Files at or below the limit are sampled in full,
	// larger files contribute a prefix sample only.
	SampleLimit = 256 * 1024

	// entropyMax is the maximum Shannon entropy of a byte source in bits.
	entropyMax = 8.0
)

// Cost is a comparable processing-cost score. Higher means more expensive.
type Cost float64

// Less reports whether c orders before other for dispatch purposes.
func (c Cost) Less(other Cost) bool {
	return c < other
}

// Profile describes the measured characteristics of one file.
type Profile struct {
	Size    int64   // full content size in bytes
	Entropy float64 // Shannon entropy estimate, bits per byte [0, 8]
	Cost    Cost
}

// Measure profiles the given content. A zero-byte file yields cost 0 and
// remains schedulable.
func Measure(content []byte) Profile {
	size := int64(len(content))
	entropy := Entropy(sample(content))

	return Profile{
		Size:    size,
		Entropy: entropy,
		Cost:    score(size, entropy),
	}
}

// sample returns the bytes the entropy estimate is computed over.
func sample(content []byte) []byte {
	if len(content) > SampleLimit {
		return content[:SampleLimit]
	}
	return content
}

// Entropy computes the Shannon entropy of data in bits per byte.
// An empty input has entropy 0.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var hist [256]int
	for _, b := range data {
		hist[b]++
	}

	total := float64(len(data))
	entropy := 0.0
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// score combines size and entropy into a cost. The formula is monotonic:
// strictly increasing in size for fixed entropy and non-decreasing in
// entropy for fixed size, so cost(A) < cost(B) whenever size(A) < size(B)
// and entropy(A) <= entropy(B).
func score(size int64, entropy float64) Cost {
	return Cost(float64(size) * (1 + entropy/entropyMax))
}
