// Package crypto seals small secrets, such as persisted session cookies,
// with a passphrase.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// Magic prefixes every sealed payload.
	Magic = "SFCR"

	// FormatVersion is bumped whenever the header layout or KDF changes.
	FormatVersion uint32 = 1

	// Argon2id parameters
	kdfTime    = 3
	kdfMemory  = 64 * 1024 // 64 MB
	kdfThreads = 4
	keyLen     = 32 // AES-256

	SaltSize  = 16
	NonceSize = 12

	// magic(4) + version(4) + salt + nonce
	HeaderSize = 4 + 4 + SaltSize + NonceSize
)

var (
	ErrNotSealed          = errors.New("payload is not sealed")
	ErrUnsupportedVersion = errors.New("unsupported sealed payload version")
	ErrOpenFailed         = errors.New("open sealed payload: wrong passphrase or corrupted data")
	ErrEmptyPassphrase    = errors.New("passphrase must not be empty")
)

// Sealer encrypts and decrypts payloads with a fixed passphrase.
type Sealer struct {
	passphrase string
}

// NewSealer returns a Sealer for the passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return &Sealer{passphrase: passphrase}, nil
}

// Seal encrypts plaintext with AES-256-GCM under a fresh salt and nonce.
// The header is authenticated as additional data.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	header := make([]byte, HeaderSize)
	copy(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	if _, err := io.ReadFull(rand.Reader, header[8:HeaderSize]); err != nil {
		return nil, fmt.Errorf("generate salt and nonce: %w", err)
	}

	gcm, err := s.aead(header[8 : 8+SaltSize])
	if err != nil {
		return nil, err
	}

	return gcm.Seal(header, header[8+SaltSize:HeaderSize], plaintext, header), nil
}

// Open reverses Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if !IsSealed(data) || len(data) < HeaderSize {
		return nil, ErrNotSealed
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	header := data[:HeaderSize]
	gcm, err := s.aead(header[8 : 8+SaltSize])
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, header[8+SaltSize:], data[HeaderSize:], header)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

func (s *Sealer) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(s.passphrase), salt, kdfTime, kdfMemory, kdfThreads, keyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// IsSealed reports whether data starts with the sealed payload magic.
func IsSealed(data []byte) bool {
	return len(data) >= len(Magic) && string(data[:len(Magic)]) == Magic
}
