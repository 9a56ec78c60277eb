package otp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticVerifier_Disabled(t *testing.T) {
	v, err := NewStaticVerifier("  ")
	require.NoError(t, err)

	assert.False(t, v.Enabled())
	assert.ErrorIs(t, v.Verify(context.Background(), "+911234567890", "000000"), ErrOTPDisabled)
}

func TestStaticVerifier_Verify(t *testing.T) {
	v, err := NewStaticVerifier("482913")
	require.NoError(t, err)
	require.True(t, v.Enabled())

	tests := []struct {
		name    string
		subject string
		code    string
		wantErr error
	}{
		{name: "matching code", subject: "+911234567890", code: "482913"},
		{name: "matching code with spaces", subject: "owner@fresh.example", code: " 482913 "},
		{name: "wrong code", subject: "+911234567890", code: "123456", wantErr: ErrInvalidOTP},
		{name: "empty code", subject: "+911234567890", code: "", wantErr: ErrMissingCode},
		{name: "empty subject", subject: "", code: "482913", wantErr: ErrMissingCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(context.Background(), tt.subject, tt.code)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStaticVerifier_DoesNotKeepPlainCode(t *testing.T) {
	v, err := NewStaticVerifier("482913")
	require.NoError(t, err)
	assert.NotContains(t, string(v.hash), "482913")
}

func TestStaticVerifier_CancelledContext(t *testing.T) {
	v, err := NewStaticVerifier("482913")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, v.Verify(ctx, "+911234567890", "482913"), context.Canceled)
}
