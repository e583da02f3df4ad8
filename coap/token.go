package coap

import (
	"fmt"
	"math/rand/v2"

	"github.com/edgelesssys/go-attest-coap/attesterr"
)

// GenerateToken returns a pseudo-random token.
// A length of 0 picks a random length in [1, MaxTokenLength].
// Tokens only correlate responses, they carry no secret.
func GenerateToken(length int) ([]byte, error) {
	if length < 0 || length > MaxTokenLength {
		return nil, attesterr.New(attesterr.Argument, "generate token",
			fmt.Errorf("length %d outside [0, %d]: %w", length, MaxTokenLength, ErrTokenLength))
	}
	if length == 0 {
		length = rand.IntN(MaxTokenLength) + 1
	}

	token := make([]byte, length)
	for i := range token {
		token[i] = byte(rand.UintN(256))
	}
	return token, nil
}
