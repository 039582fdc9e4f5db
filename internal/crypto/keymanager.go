package crypto

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Key derivation parameters
	pbkdf2MinIterations = 100000
	masterKeySize       = 32 // 256 bits
	saltSize            = 32 // 256 bits
	wrapNonceSize       = 12 // 96 bits for GCM
	wrapTagSize         = 16 // 128 bits authentication tag
)

// MasterKey is a password-derived wrapping key. It exists only in memory
// for the lifetime of one batch and must be scrubbed with Zero once every
// data key of the batch has been wrapped or unwrapped. It never crosses the
// persistence boundary.
type MasterKey struct {
	key        []byte
	salt       []byte
	iterations int
	scrubbed   bool
}

// WrappedKeyRecord is the persisted envelope of one file's data key. It
// never contains plaintext key material; the AEAD tag makes it
// tamper-evident and the PBKDF2 parameters make it password-opaque.
type WrappedKeyRecord struct {
	FileID     string    `json:"file_id"`
	Salt       []byte    `json:"salt"`
	Iterations int       `json:"iterations"`
	WrapNonce  []byte    `json:"wrap_nonce"`
	WrappedKey []byte    `json:"wrapped_key_ciphertext"`
	WrapTag    []byte    `json:"wrap_tag"`
	Mode       Mode      `json:"mode"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewSalt generates a random per-session salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveMasterKey derives the wrapping key from the password via
// PBKDF2-SHA256.
func DeriveMasterKey(password string, salt []byte, iterations int) (*MasterKey, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", ErrKeyDerivation)
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrKeyDerivation, saltSize, len(salt))
	}
	if iterations < pbkdf2MinIterations {
		return nil, fmt.Errorf("%w: iteration count %d below floor %d", ErrKeyDerivation, iterations, pbkdf2MinIterations)
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, masterKeySize, sha256.New)
	return &MasterKey{
		key:        key,
		salt:       salt,
		iterations: iterations,
	}, nil
}

// Salt returns the salt the key was derived with.
func (mk *MasterKey) Salt() []byte { return mk.salt }

// Iterations returns the PBKDF2 iteration count the key was derived with.
func (mk *MasterKey) Iterations() int { return mk.iterations }

// Zero scrubs the key material. The master key is unusable afterwards.
func (mk *MasterKey) Zero() {
	ZeroBytes(mk.key)
	mk.scrubbed = true
}

// NewDataKey generates a fresh random data key for the mode. One data key
// protects exactly one file for one operation and is never reused.
func NewDataKey(mode Mode) ([]byte, error) {
	key := make([]byte, mode.KeySize())
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return key, nil
}

// Wrap AEAD-encrypts the data key under the master key with a fresh random
// wrap nonce. The file id and mode are bound as associated data, so a record
// replayed against another file fails verification.
func (mk *MasterKey) Wrap(fileID string, dataKey []byte, mode Mode) (*WrappedKeyRecord, error) {
	if mk.scrubbed {
		return nil, fmt.Errorf("master key already scrubbed")
	}

	gcm, err := newWrapCipher(mk.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, wrapNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate wrap nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, dataKey, wrapAAD(fileID, mode))
	split := len(sealed) - wrapTagSize

	return &WrappedKeyRecord{
		FileID:     fileID,
		Salt:       mk.salt,
		Iterations: mk.iterations,
		WrapNonce:  nonce,
		WrappedKey: sealed[:split],
		WrapTag:    sealed[split:],
		Mode:       mode,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Unwrap verifies and decrypts a wrapped record. A wrong password and a
// corrupted record are indistinguishable: both return ErrAuthentication,
// and a failed attempt leaves the record intact for a later retry.
func (mk *MasterKey) Unwrap(record *WrappedKeyRecord) ([]byte, error) {
	if mk.scrubbed {
		return nil, fmt.Errorf("master key already scrubbed")
	}
	if record == nil || len(record.WrapNonce) != wrapNonceSize || len(record.WrapTag) != wrapTagSize {
		return nil, ErrAuthentication
	}

	gcm, err := newWrapCipher(mk.key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(record.WrappedKey)+wrapTagSize)
	sealed = append(sealed, record.WrappedKey...)
	sealed = append(sealed, record.WrapTag...)

	dataKey, err := gcm.Open(nil, record.WrapNonce, sealed, wrapAAD(record.FileID, record.Mode))
	if err != nil {
		return nil, ErrAuthentication
	}
	return dataKey, nil
}

func newWrapCipher(key []byte) (stdcipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func wrapAAD(fileID string, mode Mode) []byte {
	return []byte(fileID + "|" + mode.String())
}

// ZeroBytes overwrites b with zeroes. Used to scrub key material once its
// file's operation completes.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
