package auth

import (
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
)

// DefaultNonceLength is the length of router-issued nonces.
const DefaultNonceLength = 16

const (
	nonceLetters = "abcdefghijkmnopqrstuvwxyz"
	nonceChars   = nonceLetters + "0123456789"
)

var noncePattern = regexp.MustCompile(`^[A-Za-z0-9]{10,32}$`)

// ErrNonceLength is returned for a non-positive nonce length.
var ErrNonceLength = errors.New("nonce length must be positive")

// NewNonce returns a random token starting with a lowercase letter followed by
// lowercase letters and digits. The letter l is left out of the alphabet.
func NewNonce(length int) (string, error) {
	if length <= 0 {
		return "", ErrNonceLength
	}

	buf := make([]byte, length)
	for i := range buf {
		alphabet := nonceChars
		if i == 0 {
			alphabet = nonceLetters
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// ValidNonce reports whether an agent-supplied nonce has an acceptable shape:
// 10 to 32 alphanumeric characters.
func ValidNonce(nonce string) bool {
	return noncePattern.MatchString(nonce)
}
