// Package envelope encrypts file blobs under a room key.
//
// A sealed envelope is JSON {"iv","content","mac"}: a fresh 16-byte IV per
// call, AES-256-CBC with PKCS#7 padding over base64(raw), and an HMAC-SHA256
// over iv||ciphertext. Both AES and HMAC keys are derived from the room key
// with HKDF-SHA256, so the room key string itself is never used directly.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrEmptyKey         = errors.New("empty room key")
)

const (
	ivSize  = aes.BlockSize
	keySize = 32
)

// Envelope is the serialized form of an encrypted blob.
type Envelope struct {
	IV      string `json:"iv"`
	Content string `json:"content"`
	MAC     string `json:"mac"`
}

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

func deriveKeys(roomKey string) (encKey, macKey []byte, err error) {
	if roomKey == "" {
		return nil, nil, ErrEmptyKey
	}
	r := hkdf.New(sha256.New, []byte(roomKey), nil, []byte("ghostroom file envelope v1"))
	encKey = make([]byte, keySize)
	macKey = make([]byte, keySize)
	if _, err := io.ReadFull(r, encKey); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(r, macKey); err != nil {
		return nil, nil, err
	}
	return encKey, macKey, nil
}

func mac(key, iv, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(iv)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// Encrypt seals raw under roomKey and returns the serialized envelope.
func Encrypt(raw []byte, roomKey string) (string, error) {
	encKey, macKey, err := deriveKeys(roomKey)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}

	plaintext := pkcs7Pad([]byte(base64.StdEncoding.EncodeToString(raw)), aes.BlockSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	out, err := json.Marshal(Envelope{
		IV:      hex.EncodeToString(iv),
		Content: base64.StdEncoding.EncodeToString(ciphertext),
		MAC:     hex.EncodeToString(mac(macKey, iv, ciphertext)),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Decrypt opens an envelope produced by Encrypt. Any malformed input, wrong
// key or padding problem yields ErrDecryptionFailed and no data.
func Decrypt(sealed string, roomKey string) ([]byte, error) {
	encKey, macKey, err := deriveKeys(roomKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != ivSize {
		return nil, fmt.Errorf("%w: bad iv", ErrDecryptionFailed)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Content)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad ciphertext", ErrDecryptionFailed)
	}
	tag, err := hex.DecodeString(env.MAC)
	if err != nil || !hmac.Equal(tag, mac(macKey, iv, ciphertext)) {
		return nil, fmt.Errorf("%w: authentication", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: bad plaintext encoding", ErrDecryptionFailed)
	}
	return raw, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptionFailed)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptionFailed)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryptionFailed)
		}
	}
	return b[:len(b)-n], nil
}
