package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrOTPDisabled = errors.New("otp verification is not configured")
	ErrInvalidOTP  = errors.New("invalid otp")
	ErrMissingCode = errors.New("otp code is required")
)

// Verifier checks a one-time code presented for a phone number or email.
type Verifier interface {
	Verify(ctx context.Context, subject, code string) error
}

// StaticVerifier accepts a single development code for every subject.
// It keeps only the bcrypt hash of the code. Not for production traffic.
type StaticVerifier struct {
	hash []byte
}

// NewStaticVerifier returns a verifier for devCode. An empty code yields a verifier
// that rejects everything with ErrOTPDisabled.
func NewStaticVerifier(devCode string) (*StaticVerifier, error) {
	devCode = strings.TrimSpace(devCode)
	if devCode == "" {
		return &StaticVerifier{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(devCode), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash otp dev code: %w", err)
	}
	return &StaticVerifier{hash: hash}, nil
}

func (v *StaticVerifier) Enabled() bool {
	return len(v.hash) > 0
}

func (v *StaticVerifier) Verify(ctx context.Context, subject, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !v.Enabled() {
		return ErrOTPDisabled
	}
	code = strings.TrimSpace(code)
	if code == "" || strings.TrimSpace(subject) == "" {
		return ErrMissingCode
	}
	if bcrypt.CompareHashAndPassword(v.hash, []byte(code)) != nil {
		return ErrInvalidOTP
	}
	return nil
}
