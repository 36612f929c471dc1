package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

var otpMax = big.NewInt(1_000_000)

// GenerateOTP returns a uniformly random 6-digit code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func GenerateToken() string {
	return uuid.NewString()
}

// GenerateTransactionID returns an id of the form TXN-XXXXXXXXXXXX.
func GenerateTransactionID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TXN-" + strings.ToUpper(id[:12])
}
