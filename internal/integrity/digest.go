// Package integrity computes content digests that identify scanned files and model artifacts.
// BLAKE3 is the primary digest; SHA-256 is carried alongside for interoperability with
// hash databases that only key on SHA-256.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// ChunkSize is the read size used when hashing from disk.
const ChunkSize = 64 * 1024

// Digest holds the hex-encoded digests of a byte stream.
type Digest struct {
	BLAKE3 string
	SHA256 string
	Size   int64
}

// Digester is an io.Writer that hashes everything written to it.
// It is not safe for concurrent use.
type Digester struct {
	b3   *blake3.Hasher
	s256 hash.Hash
	n    int64
}

// NewDigester creates a Digester.
func NewDigester() *Digester {
	return &Digester{
		b3:   blake3.New(),
		s256: sha256.New(),
	}
}

// Write implements io.Writer. It never returns an error.
func (d *Digester) Write(p []byte) (int, error) {
	d.b3.Write(p)
	d.s256.Write(p)
	d.n += int64(len(p))
	return len(p), nil
}

// Sum returns the digests of the data written so far.
func (d *Digester) Sum() Digest {
	return Digest{
		BLAKE3: hex.EncodeToString(d.b3.Sum(nil)),
		SHA256: hex.EncodeToString(d.s256.Sum(nil)),
		Size:   d.n,
	}
}

// Reset clears the digester so it can be reused.
func (d *Digester) Reset() {
	d.b3.Reset()
	d.s256.Reset()
	d.n = 0
}

// HashReader digests r in ChunkSize reads.
func HashReader(r io.Reader) (Digest, error) {
	d := NewDigester()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(d, r, buf); err != nil {
		return Digest{}, fmt.Errorf("failed to hash data: %w", err)
	}
	return d.Sum(), nil
}

// HashFile digests the file at path.
func HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return HashReader(f)
}

// BLAKE3Hex returns the hex BLAKE3 digest of data.
func BLAKE3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
