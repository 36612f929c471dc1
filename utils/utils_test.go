package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOTP(t *testing.T) {
	six := regexp.MustCompile(`^\d{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		otp, err := GenerateOTP()
		require.NoError(t, err)
		assert.Regexp(t, six, otp)
		seen[otp] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestGenerateTransactionID(t *testing.T) {
	id := GenerateTransactionID()
	assert.Regexp(t, `^TXN-[0-9A-F]{12}$`, id)
	assert.NotEqual(t, id, GenerateTransactionID())
}

func TestFormatDateTime(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	out := FormatDateTime(ts)
	assert.Regexp(t, `^2025-03-01 \d{2}:30$`, out)
}
