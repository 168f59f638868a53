package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigester_MatchesOneShot(t *testing.T) {
	data := bytes.Repeat([]byte("binscore"), 20000)

	d := NewDigester()
	// Feed in uneven pieces to make sure chunking does not matter.
	for off := 0; off < len(data); off += 777 {
		end := min(off+777, len(data))
		_, err := d.Write(data[off:end])
		require.NoError(t, err)
	}
	sum := d.Sum()

	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), sum.SHA256)
	assert.Equal(t, BLAKE3Hex(data), sum.BLAKE3)
	assert.Equal(t, int64(len(data)), sum.Size)
}

func TestDigester_Reset(t *testing.T) {
	d := NewDigester()
	d.Write([]byte("first"))
	d.Reset()
	d.Write([]byte("second"))

	fresh := NewDigester()
	fresh.Write([]byte("second"))

	assert.Equal(t, fresh.Sum(), d.Sum())
}

func TestDigester_Empty(t *testing.T) {
	sum := NewDigester().Sum()
	assert.Len(t, sum.BLAKE3, 64)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sum.SHA256)
	assert.Zero(t, sum.Size)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.bin")
	data := []byte("Test file content for hashing")
	require.NoError(t, os.WriteFile(path, data, 0600))

	sum, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, BLAKE3Hex(data), sum.BLAKE3)
	assert.Equal(t, int64(len(data)), sum.Size)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
