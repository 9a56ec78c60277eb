package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	securityCodeLength   = 6
	securityCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// newSecurityCode returns a random gate code. Look-alike characters (0/O, 1/I) are left out.
func newSecurityCode() (string, error) {
	max := big.NewInt(int64(len(securityCodeAlphabet)))
	buf := make([]byte, securityCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate security code: %w", err)
		}
		buf[i] = securityCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
