package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// TokenPrecision is the number of decimal places amounts are kept to.
const TokenPrecision int32 = 18

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10000

// MulDivDown returns a*num/den truncated to TokenPrecision. den must be
// non-zero.
func MulDivDown(a, num, den decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(num).QuoRem(den, TokenPrecision)
	return q
}

// Bps returns a*bps/10000 truncated to TokenPrecision.
func Bps(a decimal.Decimal, bps int64) decimal.Decimal {
	return MulDivDown(a, decimal.NewFromInt(bps), decimal.NewFromInt(BpsDenominator))
}

// ComponentAddress derives the fixed address of a named singleton component.
func ComponentAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(name)))
}
