package transport

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// MaxSeedLength is the longest personalization string a session DRBG accepts.
const MaxSeedLength = 16

// drbg is a ChaCha20 keystream keyed with SHA-256(entropy || seed).
// Each session gets its own instance, seeded once at connect time.
type drbg struct {
	mu     sync.Mutex
	cipher *chacha20.Cipher
}

func newDRBG(entropy io.Reader, seed []byte) (*drbg, error) {
	if len(seed) > MaxSeedLength {
		return nil, fmt.Errorf("seed is %d bytes long, at most %d allowed", len(seed), MaxSeedLength)
	}

	var fresh [chacha20.KeySize]byte
	if _, err := io.ReadFull(entropy, fresh[:]); err != nil {
		return nil, fmt.Errorf("reading entropy: %w", err)
	}

	h := sha256.New()
	h.Write(fresh[:])
	h.Write(seed)
	key := h.Sum(nil)

	cipher, err := chacha20.NewUnauthenticatedCipher(key, make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, fmt.Errorf("initializing DRBG: %w", err)
	}
	return &drbg{cipher: cipher}, nil
}

func newSessionDRBG(seed []byte) (*drbg, error) {
	return newDRBG(rand.Reader, seed)
}

func (d *drbg) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	clear(p)
	d.cipher.XORKeyStream(p, p)
	return len(p), nil
}
