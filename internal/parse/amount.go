package parse

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// NormalizeAmount parses a locale-formatted money string such as
// "1.234,56 €" or "£1,234.56". Everything except digits, commas and dots is
// stripped. When both separators appear, the first one is the thousands
// separator and the later one the decimal point. A lone comma is a decimal
// separator. A separator repeated with no other kind present is a thousands
// separator ("1.234.567").
func NormalizeAmount(s string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if strings.Trim(clean, ",.") == "" {
		return decimal.Zero, eris.Errorf("parse: no digits in amount %q", s)
	}

	comma := strings.IndexByte(clean, ',')
	dot := strings.IndexByte(clean, '.')
	switch {
	case comma >= 0 && dot >= 0:
		if comma < dot {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		}
	case comma >= 0:
		if strings.Count(clean, ",") > 1 {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.Replace(clean, ",", ".", 1)
		}
	case dot >= 0 && strings.Count(clean, ".") > 1:
		clean = strings.ReplaceAll(clean, ".", "")
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "parse: invalid amount %q", s)
	}
	return d, nil
}
