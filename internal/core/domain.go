package core

import (
	"errors"
	"strings"
	"time"
)

const MaxFamilyCodeLength = 50

type (
	Money struct {
		Cents int64
	}

	// Voucher is a URL carrying a spendable amount, owned by one family.
	Voucher struct {
		ID        int64
		URL       string
		Amount    Money
		Used      bool
		CreatedAt time.Time
	}

	Family struct {
		Code      string
		CreatedAt time.Time
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyURL          = errors.New("empty url")
	ErrInvalidFamilyCode = errors.New("invalid family code")
	ErrVoucherNotFound   = errors.New("voucher not found")
)

// SanitizeFamilyCode strips every character that is not alphanumeric, a hyphen
// or an underscore, and truncates to MaxFamilyCodeLength. It returns the empty
// string when nothing survives, which callers must treat as invalid.
func SanitizeFamilyCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
		if b.Len() == MaxFamilyCodeLength {
			break
		}
	}
	return b.String()
}

func ValidateFamilyCode(code string) error {
	if code == "" || code != SanitizeFamilyCode(code) {
		return ErrInvalidFamilyCode
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (v Voucher) Validate() error {
	if len(strings.TrimSpace(v.URL)) == 0 {
		return ErrEmptyURL
	}
	return v.Amount.Validate()
}
