package escrow

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/brojonat/escrowdesk/service/amount"
)

// fullFillTolerance is the relative distance from the maximum at which a
// candidate fill is promoted to a full fill. Display math goes through
// float division/multiplication, so an amount the user meant as "all of
// it" can land a hair off the true maximum; submitting that drifted value
// would fail on-chain or strand dust.
const fullFillTolerance = 1e-4 // 0.01%

// Validation is the structured result of validating a candidate fill
// amount. Err is one of the sentinel errors in this package (possibly
// wrapped); callers render it inline rather than handling a panic.
type Validation struct {
	Valid bool  `json:"valid"`
	Err   error `json:"-"`
}

func invalid(err error) Validation { return Validation{Valid: false, Err: err} }

// FillPlan carries the integer amounts handed to the transaction-builder
// collaborator for an exchange instruction.
type FillPlan struct {
	// PayAmount is what the counterparty pays, in request-token smallest
	// units.
	PayAmount *big.Int
	// ReceiveAmount is what the counterparty receives, in deposit-token
	// smallest units. For a full fill this is the exact on-chain
	// remaining amount, not a recomputed display-derived value.
	ReceiveAmount *big.Int
	FullFill      bool
}

// MaxFillAmount is the ceiling on how much request-token the counterparty
// may commit: bounded by both the escrow's remaining liquidity (at the
// posted price) and the counterparty's wallet balance, in request-token
// display units.
func MaxFillAmount(s *Snapshot, counterpartyBalance float64) float64 {
	return math.Min(s.DepositRemaining*s.Raw.Price, counterpartyBalance)
}

// ExpectedReceive is the deposit-token amount received for a given
// request-token fill amount.
func ExpectedReceive(s *Snapshot, fillAmount float64) float64 {
	if s.Raw.Price == 0 {
		return 0
	}
	return fillAmount / s.Raw.Price
}

// ValidateFillAmount checks a candidate fill amount (as entered, display
// scale) against the escrow's constraints and the counterparty's balance.
// The text form is inspected directly for the zero-decimal integrality
// rule so that "3.0" passes and "2.5" fails regardless of float rounding.
func ValidateFillAmount(s *Snapshot, amountText string, counterpartyBalance float64) Validation {
	a, err := parseAmountText(amountText)
	if err != nil {
		return invalid(err)
	}
	if a <= 0 {
		return invalid(fmt.Errorf("amount must be positive: %w", ErrInvalidAmount))
	}

	if s.RequestToken.Decimals == 0 && !isIntegralText(amountText) {
		return invalid(ErrFractionalAmount)
	}

	if !s.Raw.AllowPartialFill {
		if a != s.RequestAmount {
			return invalid(fmt.Errorf("escrow must be filled in full (%v): %w", s.RequestAmount, ErrInvalidAmount))
		}
		if counterpartyBalance < s.RequestAmount {
			return invalid(ErrInsufficientBalance)
		}
		return Validation{Valid: true}
	}

	if a > MaxFillAmount(s, counterpartyBalance) {
		return invalid(ErrInsufficientBalance)
	}
	return Validation{Valid: true}
}

// PrepareFill validates a candidate amount and converts it to the integer
// smallest-units pair the transaction builder needs. A candidate within
// fullFillTolerance of the liquidity-bound maximum is treated as a full
// fill: the receive side is the exact on-chain remaining amount rather
// than a drifted float conversion.
func PrepareFill(s *Snapshot, amountText string, counterpartyBalance float64) (*FillPlan, error) {
	v := ValidateFillAmount(s, amountText, counterpartyBalance)
	if !v.Valid {
		return nil, v.Err
	}
	a, _ := parseAmountText(amountText)

	liquidityMax := s.DepositRemaining * s.Raw.Price
	fullFill := liquidityMax > 0 &&
		liquidityMax <= counterpartyBalance &&
		math.Abs(liquidityMax-a) <= liquidityMax*fullFillTolerance

	plan := &FillPlan{
		PayAmount: amount.ToSmallestUnits(amountText, s.RequestToken.Decimals),
		FullFill:  fullFill,
	}

	if fullFill {
		plan.ReceiveAmount = new(big.Int).SetUint64(s.Raw.TokensDepositRemaining)
		return plan, nil
	}

	recv := ExpectedReceive(s, a)
	plan.ReceiveAmount = amount.ToSmallestUnits(
		strconv.FormatFloat(recv, 'f', -1, 64),
		s.DepositToken.Decimals,
	)
	return plan, nil
}

// PercentAmount is the shortcut for "fill N% of the maximum": the amount
// is formatted for display, floored to a whole number when the request
// token has no decimal places.
func PercentAmount(s *Snapshot, counterpartyBalance, percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	a := MaxFillAmount(s, counterpartyBalance) * percent / 100
	if s.RequestToken.Decimals == 0 {
		return strconv.FormatFloat(math.Floor(a), 'f', 0, 64)
	}
	return amount.FormatDecimals(a)
}

func parseAmountText(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("empty amount: %w", ErrInvalidAmount)
	}
	a, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(a) || math.IsInf(a, 0) {
		return 0, fmt.Errorf("unparsable amount %q: %w", text, ErrInvalidAmount)
	}
	return a, nil
}

// isIntegralText reports whether the textual amount has no nonzero digit
// after a decimal point. "3" and "3.0" are integral, "2.5" is not.
func isIntegralText(text string) bool {
	_, frac, found := strings.Cut(strings.TrimSpace(text), ".")
	if !found {
		return true
	}
	for i := 0; i < len(frac); i++ {
		if frac[i] != '0' {
			return false
		}
	}
	return true
}
