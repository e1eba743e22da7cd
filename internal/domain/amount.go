package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a base-currency quantity that is either a valid decimal or
// Invalid. Invalid amounts come from payout entries whose literal did not
// parse as a number; any arithmetic touching an Invalid operand yields
// Invalid, and the reconciler treats an Invalid comparison as a mismatch.
type Amount struct {
	value decimal.Decimal
	valid bool
}

// UnitRate is the conversion rate meaning "no conversion".
var UnitRate = decimal.NewFromInt(1)

// NewAmount wraps a decimal value.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{value: d, valid: true}
}

// Satoshis returns the amount for a whole number of base units.
func Satoshis(n int64) Amount {
	return NewAmount(decimal.NewFromInt(n))
}

// InvalidAmount returns the not-a-number variant.
func InvalidAmount() Amount {
	return Amount{}
}

// Literals beyond these bounds are treated as out of range.
const (
	maxExponent = 64
	maxDigits   = 64
)

// ParseAmount converts a numeric literal. Anything that is not a number,
// including the empty string, yields an Invalid amount rather than zero.
// So do literals whose exponent or digit count is out of range.
func ParseAmount(s string) Amount {
	s = strings.TrimSpace(s)
	if len(s) > 2*maxDigits {
		return InvalidAmount()
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return InvalidAmount()
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent || d.NumDigits() > maxDigits {
		return InvalidAmount()
	}
	return NewAmount(d)
}

// Valid reports whether a holds a number.
func (a Amount) Valid() bool { return a.valid }

// Decimal returns the underlying value and whether it is valid.
func (a Amount) Decimal() (decimal.Decimal, bool) {
	return a.value, a.valid
}

// Div divides by rate. A zero rate yields Invalid.
func (a Amount) Div(rate decimal.Decimal) Amount {
	if !a.valid || rate.IsZero() {
		return InvalidAmount()
	}
	return NewAmount(a.value.Div(rate))
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount {
	if !a.valid || !b.valid {
		return InvalidAmount()
	}
	return NewAmount(a.value.Sub(b.value))
}

// Abs returns |a|.
func (a Amount) Abs() Amount {
	if !a.valid {
		return a
	}
	return NewAmount(a.value.Abs())
}

// Max returns the larger of a and b.
func (a Amount) Max(b Amount) Amount {
	if !a.valid || !b.valid {
		return InvalidAmount()
	}
	return NewAmount(decimal.Max(a.value, b.value))
}

// IsZero reports whether a is a valid zero. Invalid is never zero.
func (a Amount) IsZero() bool {
	return a.valid && a.value.IsZero()
}

// IsPositive reports whether a is valid and greater than zero.
func (a Amount) IsPositive() bool {
	return a.valid && a.value.IsPositive()
}

// Equal compares two amounts; two Invalid amounts are equal to each other.
func (a Amount) Equal(b Amount) bool {
	if a.valid != b.valid {
		return false
	}
	return !a.valid || a.value.Equal(b.value)
}

func (a Amount) String() string {
	if !a.valid {
		return "NaN"
	}
	return a.value.String()
}

// MarshalJSON writes valid amounts as bare JSON numbers and Invalid as null.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.valid {
		return []byte("null"), nil
	}
	return []byte(a.value.String()), nil
}

// UnmarshalJSON accepts a number, a quoted number or null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = InvalidAmount()
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = ParseAmount(s)
		return nil
	}
	*a = ParseAmount(string(data))
	return nil
}
