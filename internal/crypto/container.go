package crypto

import (
	"encoding/json"
	"fmt"
)

// Container is the ciphertext envelope for one file. The metadata must
// survive a round-trip through whatever packaging the caller applies; the
// ciphertext body is stored separately from the manifest.
type Container struct {
	Mode         Mode     `json:"mode"`
	BaseNonce    []byte   `json:"base_nonce"`
	ChunkSize    int      `json:"chunk_size"`
	OriginalSize int64    `json:"original_size"`
	ChunkCount   int      `json:"chunk_count"`
	Tags         [][]byte `json:"tags,omitempty"` // GCM only, one per chunk

	// Ciphertext holds the chunk bodies back to back in index order.
	// It is not part of the JSON manifest.
	Ciphertext []byte `json:"-"`
}

// chunkSpan describes where chunk index i lives in the plaintext and
// ciphertext buffers. For GCM and CTR the ciphertext body length equals the
// plaintext length; for CBC the final chunk carries PKCS#7 padding.
type chunkSpan struct {
	index  int
	ptOff  int64
	ptLen  int
	ctOff  int64
	ctLen  int
}

// spans computes the chunk layout of the container. It returns an error if
// the recorded geometry is inconsistent.
func (c *Container) spans() ([]chunkSpan, error) {
	if c.ChunkCount == 0 {
		if c.OriginalSize != 0 || len(c.Ciphertext) != 0 {
			return nil, fmt.Errorf("invalid container: empty chunk set with %d bytes", len(c.Ciphertext))
		}
		return nil, nil
	}
	if c.ChunkSize <= 0 {
		return nil, fmt.Errorf("invalid container: chunk size %d", c.ChunkSize)
	}

	expected := int((c.OriginalSize + int64(c.ChunkSize) - 1) / int64(c.ChunkSize))
	if expected != c.ChunkCount {
		return nil, fmt.Errorf("invalid container: %d chunks recorded, geometry implies %d", c.ChunkCount, expected)
	}

	spans := make([]chunkSpan, c.ChunkCount)
	for i := 0; i < c.ChunkCount; i++ {
		ptOff := int64(i) * int64(c.ChunkSize)
		ptLen := c.ChunkSize
		if rest := c.OriginalSize - ptOff; int64(ptLen) > rest {
			ptLen = int(rest)
		}

		ctLen := ptLen
		if c.Mode == ModeCBC && i == c.ChunkCount-1 {
			ctLen = paddedLen(ptLen)
		}

		spans[i] = chunkSpan{
			index: i,
			ptOff: ptOff,
			ptLen: ptLen,
			ctOff: ptOff, // full chunks are size-preserving in every mode
			ctLen: ctLen,
		}
	}

	last := spans[c.ChunkCount-1]
	if int64(len(c.Ciphertext)) != last.ctOff+int64(last.ctLen) {
		return nil, fmt.Errorf("invalid container: ciphertext length %d does not match geometry", len(c.Ciphertext))
	}

	if c.Mode.Authenticated() && len(c.Tags) != c.ChunkCount {
		return nil, fmt.Errorf("invalid container: %d tags for %d chunks", len(c.Tags), c.ChunkCount)
	}

	return spans, nil
}

// EncodeManifest serializes the container metadata (without the ciphertext
// body) for persistence alongside the package.
func EncodeManifest(c *Container) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses container metadata produced by EncodeManifest.
func DecodeManifest(data []byte) (*Container, error) {
	var c Container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &c, nil
}
