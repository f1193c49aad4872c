package cli

import (
	"fmt"
	"strings"
)

// FormatUSD renders an amount as dollars and cents with comma-grouped
// thousands, e.g. -1234.5 -> "-$1,234.50".
func FormatUSD(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	s := fmt.Sprintf("%.2f", amount)
	dot := strings.IndexByte(s, '.')
	return sign + "$" + groupThousands(s[:dot]) + s[dot:]
}

// groupThousands inserts commas every three digits from the right.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatPercent renders a percentage with an explicit sign on gains.
func FormatPercent(value float64) string {
	if value > 0 {
		return fmt.Sprintf("+%.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}
