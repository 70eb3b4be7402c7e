// Package format renders result values according to their inferred display type.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// ToDecimal converts warehouse values (numeric driver types, strings, pgtype
// numerics rendered as strings) to a decimal. ok is false for non-numeric input.
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint64:
		return decimal.NewFromUint64(n), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case fmt.Stringer:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// ToFloat is ToDecimal narrowed to float64.
func ToFloat(v any) (float64, bool) {
	d, ok := ToDecimal(v)
	if !ok {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// groupThousands inserts commas into the integer part of a plain decimal string.
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if hasFrac {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// Currency renders $#,##0.00; negatives as -$1,234.50.
func Currency(d decimal.Decimal) string {
	s := groupThousands(d.Abs().StringFixed(2))
	if d.IsNegative() {
		return "-$" + s
	}
	return "$" + s
}

// Percentage renders a value already expressed in percentage points (45.5 → "45.5%").
func Percentage(d decimal.Decimal) string {
	return d.Round(2).String() + "%"
}

// Integer renders #,##0.
func Integer(d decimal.Decimal) string {
	return groupThousands(d.Round(0).StringFixed(0))
}

// Date renders YYYY-MM-DD for time values and date-like strings.
func Date(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2006-01-02")
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format("2006-01-02")
	case string:
		if len(t) >= 10 {
			if parsed, err := time.Parse("2006-01-02", t[:10]); err == nil {
				return parsed.Format("2006-01-02")
			}
		}
		return t
	default:
		return fmt.Sprint(v)
	}
}

// Value renders v for display. Non-numeric values for numeric display types
// fall back to their string form.
func Value(v any, display models.DisplayType) string {
	if v == nil {
		return ""
	}
	switch display {
	case models.DisplayCurrency, models.DisplayPercentage, models.DisplayInteger:
		d, ok := ToDecimal(v)
		if !ok {
			return fmt.Sprint(v)
		}
		switch display {
		case models.DisplayCurrency:
			return Currency(d)
		case models.DisplayPercentage:
			return Percentage(d)
		default:
			return Integer(d)
		}
	case models.DisplayDate:
		return Date(v)
	default:
		switch s := v.(type) {
		case string:
			return s
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		default:
			return fmt.Sprint(v)
		}
	}
}
