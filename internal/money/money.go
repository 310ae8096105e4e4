// Package money provides the fixed-point decimal type used for every
// monetary amount in the settlement core: crypto/fiat amounts, fees,
// ledger entries and balances.
package money

import (
	"database/sql/driver"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount wraps decimal.Decimal so every monetary field in the core shares
// one marshaling and storage convention (fixed-point string in SQLite).
type Amount struct {
	decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{decimal.Zero}

// New builds an Amount from a string, e.g. "100.50000000".
func New(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Amount{d}, nil
}

// MustNew panics on malformed input; used for constants in tests.
func MustNew(s string) Amount {
	a, err := New(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt builds an Amount from an integer number of whole units.
func FromInt(i int64) Amount {
	return Amount{decimal.NewFromInt(i)}
}

func (a Amount) Add(b Amount) Amount { return Amount{a.Decimal.Add(b.Decimal)} }
func (a Amount) Sub(b Amount) Amount { return Amount{a.Decimal.Sub(b.Decimal)} }
func (a Amount) Mul(b Amount) Amount { return Amount{a.Decimal.Mul(b.Decimal)} }

func (a Amount) IsNegative() bool { return a.Decimal.IsNegative() }
func (a Amount) IsPositive() bool { return a.Decimal.IsPositive() }
func (a Amount) IsZero() bool     { return a.Decimal.IsZero() }

func (a Amount) GreaterThan(b Amount) bool      { return a.Decimal.GreaterThan(b.Decimal) }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.Decimal.GreaterThanOrEqual(b.Decimal) }
func (a Amount) LessThan(b Amount) bool         { return a.Decimal.LessThan(b.Decimal) }
func (a Amount) Equal(b Amount) bool            { return a.Decimal.Equal(b.Decimal) }

// Value implements driver.Valuer so Amount can be written directly with
// database/sql, stored as its canonical decimal string.
func (a Amount) Value() (driver.Value, error) {
	return a.Decimal.String(), nil
}

// Scan implements sql.Scanner, reading the canonical decimal string back.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		a.Decimal = decimal.Zero
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", v, err)
		}
		a.Decimal = d
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", v, err)
		}
		a.Decimal = d
		return nil
	case int64:
		a.Decimal = decimal.NewFromInt(v)
		return nil
	case float64:
		a.Decimal = decimal.NewFromFloat(v)
		return nil
	default:
		return fmt.Errorf("money: unsupported scan source %T", src)
	}
}

func (a Amount) String() string { return a.Decimal.String() }

// BigIntAtScale renders a as an integer number of the smallest unit at the
// given number of decimals (e.g. 18 for most BEP-20/ERC-20 tokens), for
// comparison against on-chain transfer amounts in package chainverify.
func (a Amount) BigIntAtScale(decimals int32) *big.Int {
	return a.Decimal.Shift(decimals).BigInt()
}

// MarshalJSON renders amounts as JSON strings so API consumers never lose
// precision to float64 round-tripping.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.Decimal.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare JSON number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: unmarshal %q: %w", s, err)
	}
	a.Decimal = d
	return nil
}
