package parsing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a non-negative amount with two fraction digits
type Money struct {
	decimal.Decimal
}

var amountCleaner = strings.NewReplacer(",", "", " ", "", "₱", "", "PHP", "", "Php", "", "$", "")

// NewMoney rounds d to two places
func NewMoney(d decimal.Decimal) Money {
	return Money{d.Round(2)}
}

// MustMoney parses s and panics on failure. Intended for tests and constants.
func MustMoney(s string) Money {
	m, ok := ParseMoney(s)
	if !ok {
		panic(fmt.Sprintf("invalid amount %q", s))
	}
	return *m
}

// ParseMoney parses amounts such as "1,234.50" or "₱ 245.00". Negative and
// unparsable inputs are rejected.
func ParseMoney(s string) (*Money, bool) {
	s = amountCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return nil, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return nil, false
	}
	m := NewMoney(d)
	return &m, true
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// String formats the amount with exactly two fraction digits
func (m Money) String() string {
	return m.StringFixed(2)
}

// Add returns m + o
func (m Money) Add(o Money) Money {
	return NewMoney(m.Decimal.Add(o.Decimal))
}

// Sub returns m - o, floored at zero
func (m Money) Sub(o Money) Money {
	d := m.Decimal.Sub(o.Decimal)
	if d.IsNegative() {
		d = decimal.Zero
	}
	return NewMoney(d)
}

// Mul returns m scaled by f
func (m Money) Mul(f decimal.Decimal) Money {
	return NewMoney(m.Decimal.Mul(f))
}

// Equal reports whether two amounts are the same to the cent
func (m Money) Equal(o Money) bool {
	return m.Decimal.Equal(o.Decimal)
}

// Within reports whether |m - o| <= tolerance
func (m Money) Within(o Money, tolerance decimal.Decimal) bool {
	return m.Decimal.Sub(o.Decimal).Abs().LessThanOrEqual(tolerance)
}

// MarshalJSON encodes the amount as a fixed two-digit string, e.g. "245.00"
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.StringFixed(2))
}

// UnmarshalJSON accepts JSON strings and numbers
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, ok := ParseMoney(s)
	if !ok {
		return fmt.Errorf("invalid amount %q", s)
	}
	*m = *parsed
	return nil
}
