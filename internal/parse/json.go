package parse

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/sells-group/drawsync/internal/model"
)

var (
	labelKeys    = []string{"rankLabel", "rank", "label", "tier"}
	winnerKeys   = []string{"winners", "winnerCount", "count"}
	amountKeys   = []string{"amount", "unitAmount", "prize"}
	drawWrappers = []string{"draw", "result"}
)

func parseJSON(raw []byte, desc model.SourceDescriptor, targetDate time.Time) (*extraction, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ParseError{Kind: MalformedPayload, SourceID: desc.ID, Err: eris.New("payload is not valid JSON")}
	}

	node, err := selectDrawNode(gjson.ParseBytes(raw), desc, targetDate)
	if err != nil {
		return nil, err
	}

	numbers := node.Get("numbers")
	stars := node.Get("stars")
	if !numbers.IsArray() {
		return nil, &ParseError{Kind: MissingField, SourceID: desc.ID, Field: "numbers"}
	}
	if !stars.IsArray() {
		return nil, &ParseError{Kind: MissingField, SourceID: desc.ID, Field: "stars"}
	}

	ex := &extraction{}
	if ex.numbers, err = jsonInts(numbers); err != nil {
		return nil, &ParseError{Kind: InvalidDraw, SourceID: desc.ID, Field: "numbers", Err: err}
	}
	if ex.stars, err = jsonInts(stars); err != nil {
		return nil, &ParseError{Kind: InvalidDraw, SourceID: desc.ID, Field: "stars", Err: err}
	}
	if d, ok := jsonDate(node); ok {
		ex.date = d
	}

	breakdown := node.Get("breakdown")
	if !breakdown.Exists() {
		breakdown = node.Get("payouts")
	}
	ex.rows, ex.warnings = jsonBreakdown(breakdown, currencyFor(desc))
	return ex, nil
}

// selectDrawNode finds the object holding the draw: the root, or its "draw"
// or "result" member. An array payload is searched for the entry whose date
// matches targetDate.
func selectDrawNode(root gjson.Result, desc model.SourceDescriptor, targetDate time.Time) (gjson.Result, error) {
	if root.IsArray() {
		entries := root.Array()
		want := model.DateKey(targetDate)
		for _, e := range entries {
			n := unwrap(e)
			if d, ok := jsonDate(n); ok && model.DateKey(d) == want {
				return n, nil
			}
		}
		if len(entries) == 1 {
			return unwrap(entries[0]), nil
		}
		return gjson.Result{}, &ParseError{Kind: MissingField, SourceID: desc.ID, Field: "draw for " + want}
	}
	if !root.IsObject() {
		return gjson.Result{}, &ParseError{Kind: MalformedPayload, SourceID: desc.ID, Err: eris.New("expected a JSON object or array")}
	}
	return unwrap(root), nil
}

func unwrap(n gjson.Result) gjson.Result {
	for _, key := range drawWrappers {
		if w := n.Get(key); w.IsObject() {
			return w
		}
	}
	return n
}

func jsonDate(n gjson.Result) (time.Time, bool) {
	s := strings.TrimSpace(n.Get("date").String())
	if len(s) < len(model.DateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(model.DateLayout, s[:len(model.DateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func jsonInts(arr gjson.Result) ([]int, error) {
	var out []int
	for _, v := range arr.Array() {
		n, err := jsonInt(v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func jsonInt(v gjson.Result) (int, error) {
	switch v.Type {
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) {
			return 0, eris.Errorf("non-integer value %s", v.Raw)
		}
		return int(v.Num), nil
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		if err != nil {
			return 0, eris.Errorf("non-integer value %q", v.Str)
		}
		return n, nil
	default:
		return 0, eris.Errorf("non-integer value %s", v.Raw)
	}
}

func firstOf(n gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		if v := n.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func jsonBreakdown(arr gjson.Result, currency string) ([]model.PrizeRow, []string) {
	var (
		rows     []model.PrizeRow
		warnings []string
	)
	if !arr.IsArray() {
		return rows, warnings
	}

	seen := make(map[string]bool)
	for i, row := range arr.Array() {
		label := stripSpace(firstOf(row, labelKeys).String())
		if !rankPattern.MatchString(label) {
			continue
		}
		if seen[label] {
			warnings = append(warnings, fmt.Sprintf("breakdown row %d: duplicate rank %s dropped", i, label))
			continue
		}

		winners := 0
		if w := firstOf(row, winnerKeys); w.Exists() {
			winners = digitsInt(w.String())
		}

		amount, err := jsonAmount(firstOf(row, amountKeys))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("breakdown row %s: %v", label, err))
			continue
		}

		cur := currency
		if c := row.Get("currency").String(); c != "" {
			cur = strings.ToUpper(c)
		}

		seen[label] = true
		rows = append(rows, model.PrizeRow{
			RankLabel:   label,
			WinnerCount: winners,
			UnitAmount:  amount,
			Currency:    cur,
		})
	}
	return rows, warnings
}

func jsonAmount(v gjson.Result) (decimal.Decimal, error) {
	switch v.Type {
	case gjson.Number:
		return decimal.NewFromString(v.Raw)
	case gjson.String:
		return NormalizeAmount(v.Str)
	default:
		return decimal.Zero, eris.New("missing amount")
	}
}
