// Package secrets holds the card secrets the ledger needs: CVV derivation,
// PIN hashing and card number generation.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CardNumberLength is the number of digits in an issued card number.
const CardNumberLength = 16

// DeriveCVV computes the 3-digit CVV for a card from its number and expiry
// month. The same inputs always give the same CVV, so it is never stored.
func DeriveCVV(cardNumber string, expiry time.Time, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(cardNumber + ":" + expiry.UTC().Format("200601")))
	sum := hex.EncodeToString(mac.Sum(nil))

	n, _ := strconv.ParseUint(sum[:8], 16, 64)
	return fmt.Sprintf("%03d", n%1000)
}

// PINHasher hashes card PINs for storage.
type PINHasher interface {
	Hash(pin string) (string, error)
}

// BcryptPINs is the production PINHasher.
type BcryptPINs struct {
	Cost int
}

func (b BcryptPINs) Hash(pin string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(h), nil
}

// CardNumbers produces candidate card numbers. Uniqueness is enforced by
// the store, not the generator.
type CardNumbers func() (string, error)

// RandomCardNumber draws CardNumberLength digits from crypto/rand.
func RandomCardNumber() (string, error) {
	buf := make([]byte, CardNumberLength)
	ten := big.NewInt(10)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate card number: %w", err)
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

// Mask hides all but the last four digits of a card number.
func Mask(number string) string {
	if len(number) <= 4 {
		return number
	}
	masked := make([]byte, len(number))
	for i := range masked[:len(number)-4] {
		masked[i] = '*'
	}
	copy(masked[len(number)-4:], number[len(number)-4:])
	return string(masked)
}
