package parse

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/sells-group/drawsync/internal/model"
)

var cellSelector = cascadia.MustCompile("td, th")

func parseHTML(raw []byte, desc model.SourceDescriptor) (*extraction, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Kind: MalformedPayload, SourceID: desc.ID, Err: err}
	}

	sel := desc.Selectors
	ex := &extraction{}
	switch {
	case sel.Balls != "":
		tokens, err := numericTokens(doc, sel.Balls)
		if err != nil {
			return nil, &ParseError{Kind: MissingField, SourceID: desc.ID, Field: "selectors.balls", Err: err}
		}
		if len(tokens) != model.NumberCount+model.StarCount {
			return nil, &ParseError{Kind: UnexpectedCount, SourceID: desc.ID, Got: len(tokens)}
		}
		ex.numbers = tokens[:model.NumberCount]
		ex.stars = tokens[model.NumberCount:]

	case sel.Numbers != "" && sel.Stars != "":
		numbers, err := numericTokens(doc, sel.Numbers)
		if err != nil {
			return nil, &ParseError{Kind: MissingField, SourceID: desc.ID, Field: "selectors.numbers", Err: err}
		}
		stars, err := numericTokens(doc, sel.Stars)
		if err != nil {
			return nil, &ParseError{Kind: MissingField, SourceID: desc.ID, Field: "selectors.stars", Err: err}
		}
		if len(numbers) != model.NumberCount || len(stars) != model.StarCount {
			return nil, &ParseError{
				Kind:     UnexpectedCount,
				SourceID: desc.ID,
				Field:    fmt.Sprintf("numbers=%d stars=%d", len(numbers), len(stars)),
				Got:      len(numbers) + len(stars),
			}
		}
		ex.numbers, ex.stars = numbers, stars

	default:
		return nil, &ParseError{Kind: MissingField, SourceID: desc.ID, Field: "selectors"}
	}

	if sel.BreakdownRows != "" {
		rowSel, err := cascadia.Compile(sel.BreakdownRows)
		if err != nil {
			ex.warnings = append(ex.warnings, fmt.Sprintf("breakdown selector %q: %v", sel.BreakdownRows, err))
		} else {
			ex.rows, ex.warnings = htmlBreakdown(rowSel.MatchAll(doc), currencyFor(desc))
		}
	}
	return ex, nil
}

// numericTokens returns the leading integer of each matched element's text,
// skipping elements that do not start with a digit.
func numericTokens(doc *html.Node, selector string) ([]int, error) {
	s, err := cascadia.Compile(selector)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, n := range s.MatchAll(doc) {
		if v, ok := leadingInt(textContent(n)); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func htmlBreakdown(rows []*html.Node, currency string) ([]model.PrizeRow, []string) {
	var (
		out      []model.PrizeRow
		warnings []string
	)
	seen := make(map[string]bool)
	for _, row := range rows {
		cells := cellSelector.MatchAll(row)
		if len(cells) == 0 {
			continue
		}
		label := stripSpace(textContent(cells[0]))
		if !rankPattern.MatchString(label) {
			continue
		}
		if len(cells) < 3 {
			warnings = append(warnings, fmt.Sprintf("breakdown row %s: expected 3 cells, got %d", label, len(cells)))
			continue
		}
		if seen[label] {
			warnings = append(warnings, fmt.Sprintf("breakdown row %s: duplicate rank dropped", label))
			continue
		}

		amount, err := NormalizeAmount(textContent(cells[2]))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("breakdown row %s: %v", label, err))
			continue
		}

		seen[label] = true
		out = append(out, model.PrizeRow{
			RankLabel:   label,
			WinnerCount: digitsInt(textContent(cells[1])),
			UnitAmount:  amount,
			Currency:    currency,
		})
	}
	return out, warnings
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return v, true
}

// digitsInt keeps only the digits of s ("1 234" -> 1234). No digits is 0.
func digitsInt(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	v, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return v
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
