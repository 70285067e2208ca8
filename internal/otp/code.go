// Package otp generates and compares the 6-digit email verification codes used by claim verification.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

// CodeDigits is the length of a verification code.
const CodeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random, left-zero-padded 6-digit code (000000-999999).
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

// HashCode returns the hex-encoded SHA-256 of code. Only the hash is persisted.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual reports whether code hashes to storedHash, in constant time.
func CodeEqual(code, storedHash string) bool {
	if code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashCode(code)), []byte(storedHash)) == 1
}

// WellFormed reports whether s is exactly CodeDigits ASCII digits.
func WellFormed(s string) bool {
	if len(s) != CodeDigits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
