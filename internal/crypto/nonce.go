package crypto

import "encoding/binary"

// gcmChunkNonce derives the nonce for a GCM chunk by XOR-ing the big-endian
// chunk index into the last 8 bytes of the random per-file base nonce. The
// combination is injective in the index, so nonces are pairwise distinct
// within a file; uniqueness across files comes from the random base nonce.
func gcmChunkNonce(baseNonce []byte, index int) []byte {
	nonce := make([]byte, len(baseNonce))
	copy(nonce, baseNonce)

	var indexBytes [8]byte
	binary.BigEndian.PutUint64(indexBytes[:], uint64(index))
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] ^= indexBytes[7-i]
	}
	return nonce
}

// ctrChunkIV derives the initial counter block for a CTR chunk. The low 64
// bits of the base IV advance by index*blocksPerChunk, so the counter range
// consumed by chunk i ends exactly where chunk i+1 begins: chunks never
// share keystream even though they encrypt independently.
func ctrChunkIV(baseIV []byte, index int, blocksPerChunk uint64) []byte {
	iv := make([]byte, len(baseIV))
	copy(iv, baseIV)

	low := binary.BigEndian.Uint64(iv[8:])
	binary.BigEndian.PutUint64(iv[8:], low+uint64(index)*blocksPerChunk)
	return iv
}
