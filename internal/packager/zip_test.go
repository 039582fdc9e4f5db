package packager

import (
	"archive/zip"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/cryptoflow/internal/crypto"
)

func testEntry(name, fileID string) Entry {
	return Entry{
		Name: name,
		Container: &crypto.Container{
			Mode:         crypto.ModeGCM,
			BaseNonce:    bytes.Repeat([]byte{0x01}, 12),
			ChunkSize:    4,
			OriginalSize: 8,
			ChunkCount:   2,
			Tags:         [][]byte{bytes.Repeat([]byte{0x02}, 16), bytes.Repeat([]byte{0x03}, 16)},
			Ciphertext:   []byte{1, 2, 3, 4, 5, 6, 7, 8},
		},
		Record: &crypto.WrappedKeyRecord{
			FileID:     fileID,
			Salt:       bytes.Repeat([]byte{0x04}, 32),
			Iterations: 100000,
			WrapNonce:  bytes.Repeat([]byte{0x05}, 12),
			WrappedKey: bytes.Repeat([]byte{0x06}, 32),
			WrapTag:    bytes.Repeat([]byte{0x07}, 16),
			Mode:       crypto.ModeGCM,
			CreatedAt:  time.Now().UTC().Truncate(time.Second),
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	entries := []Entry{
		testEntry("docs/report.pdf", "id-1"),
		testEntry("archive.tar", "id-2"),
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, entries))

	got, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Read returns entries sorted by name.
	assert.Equal(t, "archive.tar", got[0].Name)
	assert.Equal(t, "docs/report.pdf", got[1].Name)

	for _, e := range got {
		var want Entry
		for _, w := range entries {
			if w.Name == e.Name {
				want = w
			}
		}
		assert.Equal(t, want.Container.Ciphertext, e.Container.Ciphertext)
		assert.Equal(t, want.Container.ChunkCount, e.Container.ChunkCount)
		assert.Equal(t, want.Container.Mode, e.Container.Mode)
		assert.Equal(t, want.Record.FileID, e.Record.FileID)
		assert.Equal(t, want.Record.WrappedKey, e.Record.WrappedKey)
	}
}

func TestWriteStoresCiphertextUncompressed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Entry{testEntry("a.bin", "id-1")}))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	for _, f := range zr.File {
		if f.Name == "a.bin.enc" {
			assert.Equal(t, zip.Store, f.Method, "ciphertext member should not be deflated")
			return
		}
	}
	t.Fatal("ciphertext member missing from package")
}

func TestWriteRejectsDuplicateNames(t *testing.T) {
	entries := []Entry{testEntry("a.bin", "id-1"), testEntry("a.bin", "id-2")}

	var buf bytes.Buffer
	err := Write(&buf, entries)
	assert.Error(t, err)
}

func TestReadRejectsIncompleteEntry(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("orphan.enc")
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.Error(t, err)
}

func TestReadRejectsUnknownMembers(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("README.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.Error(t, err)
}
