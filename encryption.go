package pairsync

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
)

// EncryptionConfig configures at-rest encryption of queued operation
// payloads. Message text and photo blobs sit in the local queue for as long
// as the device stays offline, so the queue is the part of local state
// worth protecting.
type EncryptionConfig struct {
	// Enabled turns on encryption for queued payloads.
	Enabled bool `yaml:"enabled"`
	// Key is the encryption key (must be 32 bytes for AES-256).
	// If empty, KeyPassword is used to derive a key.
	Key []byte `yaml:"-"`
	// KeyPassword is used to derive the encryption key via PBKDF2.
	KeyPassword string `yaml:"key_password"`
}

// Encryptor seals and opens payload blobs. Each sealed blob embeds the key
// derivation salt so payloads written before a restart stay readable.
type Encryptor struct {
	gcm      cipher.AEAD
	salt     []byte
	password string

	mu      sync.Mutex
	derived map[string]cipher.AEAD
}

// NewEncryptor creates a new encryptor from a key or password. Returns
// (nil, nil) when cfg is nil or disabled.
func NewEncryptor(cfg *EncryptionConfig) (*Encryptor, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	e := &Encryptor{derived: make(map[string]cipher.AEAD)}

	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		gcm, err := newGCM(cfg.Key)
		if err != nil {
			return nil, err
		}
		e.gcm = gcm
		// Zero salt marks raw-key mode in the sealed format.
		e.salt = make([]byte, EncryptionSaltSize)
	case cfg.KeyPassword != "":
		salt := make([]byte, EncryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		key := pbkdf2.Key([]byte(cfg.KeyPassword), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
		gcm, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		e.gcm = gcm
		e.salt = salt
		e.password = cfg.KeyPassword
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}

	return e, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns salt || nonce || ciphertext.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, EncryptionSaltSize+EncryptionNonceSize+len(plaintext)+e.gcm.Overhead())
	out = append(out, e.salt...)
	out = append(out, nonce...)
	return e.gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. The key is re-derived from the
// embedded salt when it differs from the encryptor's current one.
func (e *Encryptor) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < EncryptionSaltSize+EncryptionNonceSize {
		return nil, errors.New("sealed payload too short")
	}

	salt := sealed[:EncryptionSaltSize]
	nonce := sealed[EncryptionSaltSize : EncryptionSaltSize+EncryptionNonceSize]
	ciphertext := sealed[EncryptionSaltSize+EncryptionNonceSize:]

	gcm, err := e.aeadForSalt(salt)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (e *Encryptor) aeadForSalt(salt []byte) (cipher.AEAD, error) {
	if bytes.Equal(salt, e.salt) {
		return e.gcm, nil
	}
	if e.password == "" {
		return nil, errors.New("sealed payload salt does not match encryption key")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gcm, ok := e.derived[string(salt)]; ok {
		return gcm, nil
	}
	key := pbkdf2.Key([]byte(e.password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	e.derived[string(salt)] = gcm
	return gcm, nil
}
