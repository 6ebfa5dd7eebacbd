package escrow

import "errors"

var (
	// ErrInvalidAccount indicates the referenced escrow account does not
	// exist on-chain. Distinct from a zero-value escrow.
	ErrInvalidAccount = errors.New("escrow account not found")

	// ErrMalformedAccount indicates the account exists but its data does
	// not decode as an escrow account (unexpected layout or version).
	ErrMalformedAccount = errors.New("malformed escrow account data")

	// ErrFractionalAmount indicates a non-integer amount for a token with
	// zero decimals.
	ErrFractionalAmount = errors.New("fractional amounts not supported for this token")

	// ErrInsufficientBalance indicates the candidate amount exceeds the
	// wallet balance or the escrow's remaining liquidity.
	ErrInsufficientBalance = errors.New("amount exceeds available balance")

	// ErrInvalidAmount indicates an amount that is empty, unparsable,
	// zero, negative, or otherwise outside the fillable range.
	ErrInvalidAmount = errors.New("invalid amount")
)
