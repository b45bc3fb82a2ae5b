// Package points holds the two-decimal fixed point amount used for question
// points, exam totals, pass thresholds and score percentages.
package points

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a decimal with two fractional digits stored as hundredths.
type Amount int64

var ErrInvalidAmount = errors.New("invalid decimal amount")

// maxWhole keeps w*100 plus a rounded-up cent inside int64.
const maxWhole = (math.MaxInt64 - 100) / 100

func FromHundredths(n int64) Amount { return Amount(n) }

func FromInt(n int64) Amount { return Amount(n * 100) }

// FromFloat rounds half away from zero to two decimals.
func FromFloat(f float64) Amount {
	return Amount(math.Round(f * 100))
}

// Parse reads "12", "12.5", "-3.25" or "1.005". Extra fractional digits are
// rounded half away from zero.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s != "" && (s[0] == '-' || s[0] == '+') {
		return 0, fmt.Errorf("%w: repeated sign", ErrInvalidAmount)
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && (!hasDot || frac == "") {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if w > maxWhole {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	for _, c := range frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	cents := int64(0)
	for i := 0; i < 2; i++ {
		cents *= 10
		if i < len(frac) {
			cents += int64(frac[i] - '0')
		}
	}
	if len(frac) > 2 && frac[2] >= '5' {
		cents++
	}
	total := w*100 + cents
	if neg {
		total = -total
	}
	return Amount(total), nil
}

func (a Amount) Hundredths() int64 { return int64(a) }

func (a Amount) Float64() float64 { return float64(a) / 100 }

func (a Amount) String() string {
	n := int64(a)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s%d.%02d", sign, n/100, n%100)
}

// DivFloor splits a across n shares, truncated to two decimals. Negative
// totals and n <= 0 give zero.
func (a Amount) DivFloor(n int) Amount {
	if n <= 0 || a <= 0 {
		return 0
	}
	return Amount(int64(a) / int64(n))
}

// DivRound divides a by n and rounds half away from zero to two decimals.
// n <= 0 gives zero.
func (a Amount) DivRound(n int) Amount {
	if n <= 0 {
		return 0
	}
	return roundDiv(int64(a), int64(n))
}

// Percent returns part/whole*100 rounded half away from zero to two
// decimals, or zero when whole is not positive.
func Percent(part, whole Amount) Amount {
	if whole <= 0 {
		return 0
	}
	return roundDiv(int64(part)*10000, int64(whole))
}

func roundDiv(num, den int64) Amount {
	if num >= 0 {
		return Amount((2*num + den) / (2 * den))
	}
	return -Amount((-2*num + den) / (2 * den))
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = 0
	case int64:
		*a = FromInt(v)
	case float64:
		*a = FromFloat(v)
	case []byte:
		p, err := Parse(string(v))
		if err != nil {
			return err
		}
		*a = p
	case string:
		p, err := Parse(v)
		if err != nil {
			return err
		}
		*a = p
	default:
		return fmt.Errorf("points: cannot scan %T", src)
	}
	return nil
}

func (a Amount) Value() (driver.Value, error) {
	return a.Float64(), nil
}

// NullAmount is an Amount that may be NULL.
type NullAmount struct {
	Amount Amount
	Valid  bool
}

func Some(a Amount) NullAmount { return NullAmount{Amount: a, Valid: true} }

func (n NullAmount) Ptr() *Amount {
	if !n.Valid {
		return nil
	}
	v := n.Amount
	return &v
}

func FromPtr(p *Amount) NullAmount {
	if p == nil {
		return NullAmount{}
	}
	return Some(*p)
}

// Or returns the amount, or fallback when NULL.
func (n NullAmount) Or(fallback Amount) Amount {
	if !n.Valid {
		return fallback
	}
	return n.Amount
}

func (n *NullAmount) Scan(src any) error {
	if src == nil {
		n.Amount, n.Valid = 0, false
		return nil
	}
	n.Valid = true
	return n.Amount.Scan(src)
}

func (n NullAmount) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Amount.Value()
}

func (n NullAmount) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return n.Amount.MarshalJSON()
}

func (n *NullAmount) UnmarshalJSON(b []byte) error {
	if strings.TrimSpace(string(b)) == "null" {
		n.Amount, n.Valid = 0, false
		return nil
	}
	if err := n.Amount.UnmarshalJSON(b); err != nil {
		return err
	}
	n.Valid = true
	return nil
}
