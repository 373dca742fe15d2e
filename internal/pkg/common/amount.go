package common

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals between ether and wei.
const EtherDecimals = 18

var ErrInvalidAmount = errors.New("invalid amount")

// ParseEther turns a decimal ether amount such as "0.1" into wei.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidAmount, amount, err)
	}

	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, amount)
	}

	wei := d.Shift(EtherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, amount, EtherDecimals)
	}

	return wei.BigInt(), nil
}

func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	return decimal.NewFromBigInt(wei, -EtherDecimals).String()
}
