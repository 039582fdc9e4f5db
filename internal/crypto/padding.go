package crypto

import (
	"bytes"
	"crypto/aes"
)

// pkcs7Pad adds PKCS#7 padding to data up to a multiple of the AES block
// size. Always appends at least one byte.
func pkcs7Pad(data []byte) []byte {
	padding := aes.BlockSize - len(data)%aes.BlockSize
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(data, padText...)
}

// pkcs7Unpad strips PKCS#7 padding. Invalid padding returns the generic
// authentication error so the caller cannot distinguish a wrong key from a
// corrupted final block.
func pkcs7Unpad(data []byte) ([]byte, error) {
	length := len(data)
	if length == 0 || length%aes.BlockSize != 0 {
		return nil, ErrAuthentication
	}

	padding := int(data[length-1])
	if padding == 0 || padding > aes.BlockSize || padding > length {
		return nil, ErrAuthentication
	}

	for i := length - padding; i < length; i++ {
		if data[i] != byte(padding) {
			return nil, ErrAuthentication
		}
	}

	return data[:length-padding], nil
}

// paddedLen returns the PKCS#7-padded length of a plaintext of n bytes.
func paddedLen(n int) int {
	return n + aes.BlockSize - n%aes.BlockSize
}
