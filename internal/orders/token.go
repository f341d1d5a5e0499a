package orders

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// TokenAlphabet omits characters that are easy to confuse when read aloud (0/O, 1/I/L).
const TokenAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// TokenGenerator produces pickup tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

type randomTokenGenerator struct {
	length int
}

// NewTokenGenerator returns a crypto/rand backed generator of length-character tokens.
func NewTokenGenerator(length int) (TokenGenerator, error) {
	if length < 3 || length > 12 {
		return nil, fmt.Errorf("pickup token length must be between 3 and 12, got %d", length)
	}
	return &randomTokenGenerator{length: length}, nil
}

func (g *randomTokenGenerator) Generate() (string, error) {
	max := big.NewInt(int64(len(TokenAlphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate pickup token: %w", err)
		}
		buf[i] = TokenAlphabet[n.Int64()]
	}
	return string(buf), nil
}
