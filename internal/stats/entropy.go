// Package stats holds the byte statistics shared by the parser and the feature extractors.
package stats

import "math"

// ByteCounts is a frequency table over the 256 byte values.
type ByteCounts [256]uint64

// Add counts every byte in data.
func (c *ByteCounts) Add(data []byte) {
	for _, b := range data {
		c[b]++
	}
}

// Total returns the number of bytes counted.
func (c *ByteCounts) Total() uint64 {
	var n uint64
	for _, v := range c {
		n += v
	}
	return n
}

// Entropy returns the Shannon entropy (base 2) of the counted bytes, in [0, 8].
// An empty table has entropy 0.
func (c *ByteCounts) Entropy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}

	var entropy float64
	t := float64(total)
	for _, count := range c {
		if count > 0 {
			p := float64(count) / t
			entropy -= p * math.Log2(p)
		}
	}
	// Rounding can push the sum just outside [0, 8].
	return min(max(entropy, 0), 8)
}

// Entropy calculates the Shannon entropy of data.
func Entropy(data []byte) float64 {
	var c ByteCounts
	c.Add(data)
	return c.Entropy()
}
