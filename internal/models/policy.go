package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type PolicyKind string

const (
	PolicyFlat       PolicyKind = "flat"
	PolicyMartingale PolicyKind = "martingale"
	PolicySoros      PolicyKind = "soros"
)

func ParsePolicyKind(s string) (PolicyKind, error) {
	switch PolicyKind(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyFlat, "fixed", "":
		return PolicyFlat, nil
	case PolicyMartingale:
		return PolicyMartingale, nil
	case PolicySoros:
		return PolicySoros, nil
	}
	return "", fmt.Errorf("unknown money policy %q", s)
}

var (
	DefaultMultiplier          = decimal.NewFromInt(2)
	DefaultSafetyMultiplierCap = decimal.NewFromInt(10)
)

type MoneyPolicy struct {
	Kind                PolicyKind      `json:"kind"`
	BaseAmount          decimal.Decimal `json:"base_amount"`
	StopGain            decimal.Decimal `json:"stop_gain"`
	StopLoss            decimal.Decimal `json:"stop_loss"`
	Multiplier          decimal.Decimal `json:"multiplier"`
	SafetyMultiplierCap decimal.Decimal `json:"safety_multiplier_cap"`
}

// WithDefaults canonicalizes the kind and fills zero multiplier and cap.
// An unknown kind is left as is for Validate to reject.
func (p MoneyPolicy) WithDefaults() MoneyPolicy {
	if kind, err := ParsePolicyKind(string(p.Kind)); err == nil {
		p.Kind = kind
	}
	if p.Multiplier.IsZero() {
		p.Multiplier = DefaultMultiplier
	}
	if p.SafetyMultiplierCap.IsZero() {
		p.SafetyMultiplierCap = DefaultSafetyMultiplierCap
	}
	return p
}

func (p MoneyPolicy) Validate() error {
	var errs []error
	if _, err := ParsePolicyKind(string(p.Kind)); err != nil {
		errs = append(errs, err)
	}
	if !p.BaseAmount.IsPositive() {
		errs = append(errs, errors.New("base_amount must be > 0"))
	}
	if !p.StopGain.IsPositive() {
		errs = append(errs, errors.New("stop_gain must be > 0"))
	}
	if !p.StopLoss.IsPositive() {
		errs = append(errs, errors.New("stop_loss must be > 0"))
	}
	if p.Multiplier.LessThan(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("multiplier must be >= 1"))
	}
	if p.SafetyMultiplierCap.LessThan(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("safety_multiplier_cap must be >= 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
	}
	return nil
}

// MaxStake: потолок ставки, base * cap.
func (p MoneyPolicy) MaxStake() decimal.Decimal {
	return p.BaseAmount.Mul(p.SafetyMultiplierCap)
}
