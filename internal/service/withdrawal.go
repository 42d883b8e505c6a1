package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"cryptra/internal/config"
)

// Payout methods.
const (
	MethodUPI    = "upi"
	MethodPayPal = "paypal"
)

var (
	upiPattern   = regexp.MustCompile(`^[a-zA-Z0-9._-]{2,256}@[a-zA-Z]{2,64}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[a-zA-Z]{2,}$`)
)

var hundred = decimal.NewFromInt(100)

// WithdrawalPolicy bounds cash-out requests.
type WithdrawalPolicy struct {
	Min        decimal.Decimal
	Max        decimal.Decimal
	FeePercent decimal.Decimal
	Methods    []string
}

// NewWithdrawalPolicy parses the withdrawal section of cfg.
func NewWithdrawalPolicy(cfg config.WithdrawalConfig) (WithdrawalPolicy, error) {
	lo, hi, err := config.RangeConfig{Min: cfg.Min, Max: cfg.Max}.Bounds()
	if err != nil {
		return WithdrawalPolicy{}, fmt.Errorf("withdrawal limits: %w", err)
	}
	fee, err := decimal.NewFromString(cfg.FeePercent)
	if err != nil {
		return WithdrawalPolicy{}, fmt.Errorf("withdrawal fee: %w", err)
	}
	return WithdrawalPolicy{Min: lo, Max: hi, FeePercent: fee, Methods: cfg.Methods}, nil
}

// Quote is the fee breakdown of a withdrawal.
type Quote struct {
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	Net    decimal.Decimal `json:"net"`
}

// Quote computes the fee for amount, rounded to cents.
func (p WithdrawalPolicy) Quote(amount decimal.Decimal) Quote {
	fee := amount.Mul(p.FeePercent).Div(hundred).Round(2)
	return Quote{Amount: amount, Fee: fee, Net: amount.Sub(fee)}
}

// Validate checks amount bounds, method and destination format.
func (p WithdrawalPolicy) Validate(amount decimal.Decimal, method, destination string) error {
	if amount.LessThan(p.Min) {
		return validationf("minimum withdrawal is $%s", p.Min.StringFixed(2))
	}
	if amount.GreaterThan(p.Max) {
		return validationf("maximum withdrawal is $%s", p.Max.StringFixed(2))
	}
	if !amount.Equal(amount.Truncate(6)) {
		return validationf("amount %s has more than 6 decimal places", amount)
	}

	method = strings.ToLower(method)
	allowed := false
	for _, m := range p.Methods {
		if m == method {
			allowed = true
			break
		}
	}
	if !allowed {
		return validationf("unsupported payout method %q", method)
	}

	switch method {
	case MethodUPI:
		if !upiPattern.MatchString(destination) {
			return validationf("invalid UPI id %q", destination)
		}
	case MethodPayPal:
		if !emailPattern.MatchString(destination) {
			return validationf("invalid PayPal e-mail %q", destination)
		}
	default:
		if strings.TrimSpace(destination) == "" {
			return validationf("destination is required")
		}
	}
	return nil
}
