package crypto

import (
	"context"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ChunkEvent reports the start or completion of one chunk task. Purely
// observational; used by the timing metrics and by execution-trace tests.
type ChunkEvent struct {
	FileID string
	Index  int
	Op     string // "encrypt" or "decrypt"
	Done   bool
}

// Engine splits a file into fixed-size chunks and encrypts or decrypts them
// over a shared worker pool. Parallel-capable modes fan chunks out across
// the pool; CBC runs its whole file inside a single pool slot.
type Engine struct {
	pool            *WorkerPool
	streamThreshold int64
	log             *logrus.Logger

	trace func(ChunkEvent)
}

// NewEngine creates an engine on top of the given pool. Files smaller than
// streamThreshold take a single-chunk path with lower per-chunk overhead.
func NewEngine(pool *WorkerPool, streamThreshold int64, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		pool:            pool,
		streamThreshold: streamThreshold,
		log:             logger,
	}
}

// SetChunkTrace installs an observer for chunk task events.
func (e *Engine) SetChunkTrace(fn func(ChunkEvent)) {
	e.trace = fn
}

func (e *Engine) emit(ev ChunkEvent) {
	if e.trace != nil {
		e.trace(ev)
	}
}

// Encrypt encrypts plaintext under the given data key and mode, splitting it
// into chunks of chunkSize bytes. The chunk size is fixed for the whole file.
// A zero-byte input produces a valid container with an empty chunk set.
func (e *Engine) Encrypt(ctx context.Context, fileID string, plaintext, key []byte, mode Mode, chunkSize int) (*Container, error) {
	if len(key) != mode.KeySize() {
		return nil, fmt.Errorf("invalid key size for %s: expected %d bytes, got %d", mode, mode.KeySize(), len(key))
	}

	baseNonce, err := generateNonce(mode.NonceSize())
	if err != nil {
		return nil, err
	}

	c := &Container{
		Mode:         mode,
		BaseNonce:    baseNonce,
		OriginalSize: int64(len(plaintext)),
	}
	if len(plaintext) == 0 {
		return c, nil
	}

	c.ChunkSize = effectiveChunkSize(chunkSize, int64(len(plaintext)), e.streamThreshold)
	c.ChunkCount = int((c.OriginalSize + int64(c.ChunkSize) - 1) / int64(c.ChunkSize))

	ctTotal := len(plaintext)
	if mode == ModeCBC {
		lastLen := len(plaintext) - (c.ChunkCount-1)*c.ChunkSize
		ctTotal = (c.ChunkCount-1)*c.ChunkSize + paddedLen(lastLen)
	}
	c.Ciphertext = make([]byte, ctTotal)
	if mode.Authenticated() {
		c.Tags = make([][]byte, c.ChunkCount)
	}

	spans, err := c.spans()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	switch mode {
	case ModeGCM:
		gcm, err := stdcipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		err = e.runChunks(ctx, fileID, "encrypt", spans, true, func(s chunkSpan) error {
			nonce := gcmChunkNonce(baseNonce, s.index)
			sealed := gcm.Seal(nil, nonce, plaintext[s.ptOff:s.ptOff+int64(s.ptLen)], nil)
			copy(c.Ciphertext[s.ctOff:], sealed[:s.ptLen])
			c.Tags[s.index] = sealed[s.ptLen:]
			return nil
		})
		if err != nil {
			return nil, err
		}

	case ModeCTR:
		blocksPerChunk := uint64(c.ChunkSize / aes.BlockSize)
		err = e.runChunks(ctx, fileID, "encrypt", spans, true, func(s chunkSpan) error {
			iv := ctrChunkIV(baseNonce, s.index, blocksPerChunk)
			stream := stdcipher.NewCTR(block, iv)
			stream.XORKeyStream(c.Ciphertext[s.ctOff:s.ctOff+int64(s.ctLen)], plaintext[s.ptOff:s.ptOff+int64(s.ptLen)])
			return nil
		})
		if err != nil {
			return nil, err
		}

	case ModeCBC:
		// Legacy sequential mode: every ciphertext block depends on the
		// previous one, so the whole file runs inside one pool slot.
		err = e.runChunks(ctx, fileID, "encrypt", spans, false, func(s chunkSpan) error {
			iv := baseNonce
			if s.index > 0 {
				iv = c.Ciphertext[s.ctOff-int64(aes.BlockSize) : s.ctOff]
			}
			data := plaintext[s.ptOff : s.ptOff+int64(s.ptLen)]
			if s.index == len(spans)-1 {
				data = pkcs7Pad(data)
			}
			enc := stdcipher.NewCBCEncrypter(block, iv)
			enc.CryptBlocks(c.Ciphertext[s.ctOff:s.ctOff+int64(s.ctLen)], data)
			return nil
		})
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported cipher mode: %s", mode)
	}

	return c, nil
}

// Decrypt verifies and decrypts a container. The first failed chunk aborts
// the whole file: sibling chunk tasks are cancelled and no plaintext is
// returned, even though other chunks may already have been decrypted.
func (e *Engine) Decrypt(ctx context.Context, fileID string, c *Container, key []byte) ([]byte, error) {
	if len(key) != c.Mode.KeySize() {
		return nil, fmt.Errorf("invalid key size for %s: expected %d bytes, got %d", c.Mode, c.Mode.KeySize(), len(key))
	}
	if len(c.BaseNonce) != c.Mode.NonceSize() {
		return nil, fmt.Errorf("invalid container: base nonce size %d", len(c.BaseNonce))
	}

	spans, err := c.spans()
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return []byte{}, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	out := make([]byte, c.OriginalSize)

	switch c.Mode {
	case ModeGCM:
		gcm, err := stdcipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		err = e.runChunks(ctx, fileID, "decrypt", spans, true, func(s chunkSpan) error {
			sealed := make([]byte, s.ctLen+len(c.Tags[s.index]))
			copy(sealed, c.Ciphertext[s.ctOff:s.ctOff+int64(s.ctLen)])
			copy(sealed[s.ctLen:], c.Tags[s.index])

			nonce := gcmChunkNonce(c.BaseNonce, s.index)
			// Open appends into the chunk's disjoint output window.
			if _, err := gcm.Open(out[s.ptOff:s.ptOff:s.ptOff+int64(s.ptLen)], nonce, sealed, nil); err != nil {
				return ErrAuthentication
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

	case ModeCTR:
		blocksPerChunk := uint64(c.ChunkSize / aes.BlockSize)
		err = e.runChunks(ctx, fileID, "decrypt", spans, true, func(s chunkSpan) error {
			iv := ctrChunkIV(c.BaseNonce, s.index, blocksPerChunk)
			stream := stdcipher.NewCTR(block, iv)
			stream.XORKeyStream(out[s.ptOff:s.ptOff+int64(s.ptLen)], c.Ciphertext[s.ctOff:s.ctOff+int64(s.ctLen)])
			return nil
		})
		if err != nil {
			return nil, err
		}

	case ModeCBC:
		err = e.runChunks(ctx, fileID, "decrypt", spans, false, func(s chunkSpan) error {
			iv := c.BaseNonce
			if s.index > 0 {
				iv = c.Ciphertext[s.ctOff-int64(aes.BlockSize) : s.ctOff]
			}
			ct := c.Ciphertext[s.ctOff : s.ctOff+int64(s.ctLen)]
			if len(ct)%aes.BlockSize != 0 {
				return ErrAuthentication
			}
			dec := stdcipher.NewCBCDecrypter(block, iv)
			if s.index == len(spans)-1 {
				padded := make([]byte, s.ctLen)
				dec.CryptBlocks(padded, ct)
				plain, err := pkcs7Unpad(padded)
				if err != nil {
					return err
				}
				if len(plain) != s.ptLen {
					return ErrAuthentication
				}
				copy(out[s.ptOff:], plain)
				return nil
			}
			dec.CryptBlocks(out[s.ptOff:s.ptOff+int64(s.ptLen)], ct)
			return nil
		})
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported cipher mode: %s", c.Mode)
	}

	return out, nil
}

// runChunks submits chunk work to the shared pool and waits for the per-file
// barrier. Parallel-capable work gets one task per chunk; sequential work is
// a single task iterating all chunks, so it occupies exactly one pool slot.
// The first chunk error cancels the remaining sibling chunks of this file
// only; a chunk operation itself is never interrupted mid-flight.
func (e *Engine) runChunks(ctx context.Context, fileID, op string, spans []chunkSpan, parallel bool, fn func(chunkSpan) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	run := func(s chunkSpan) {
		if ctx.Err() != nil {
			return
		}
		e.emit(ChunkEvent{FileID: fileID, Index: s.index, Op: op})
		err := fn(s)
		e.emit(ChunkEvent{FileID: fileID, Index: s.index, Op: op, Done: true})
		if err != nil {
			fail(err)
		}
	}

	if parallel && len(spans) > 1 {
		for _, s := range spans {
			s := s
			wg.Add(1)
			e.pool.Submit(func() {
				defer wg.Done()
				run(s)
			})
		}
	} else {
		wg.Add(1)
		e.pool.Submit(func() {
			defer wg.Done()
			for _, s := range spans {
				if ctx.Err() != nil {
					return
				}
				run(s)
			}
		})
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// effectiveChunkSize picks the chunk size for one file. Files under the
// stream threshold collapse to a single chunk; multi-chunk files use the
// requested size rounded down to the AES block size so CBC chaining and CTR
// counter spacing stay block-aligned.
func effectiveChunkSize(chunkSize int, fileSize, streamThreshold int64) int {
	if fileSize < streamThreshold || int64(chunkSize) >= fileSize {
		return int(fileSize)
	}
	cs := chunkSize - chunkSize%aes.BlockSize
	if cs < aes.BlockSize {
		cs = aes.BlockSize
	}
	return cs
}

// generateNonce returns a cryptographically secure random nonce.
func generateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}
