// Package parse turns raw source payloads into validated draws.
package parse

import (
	"errors"
	"regexp"
	"time"

	"github.com/sells-group/drawsync/internal/model"
)

// rankPattern matches prize tier labels such as "5+2".
var rankPattern = regexp.MustCompile(`^\d+\+\d+$`)

// DefaultCurrency applies when neither the row nor the source names one.
const DefaultCurrency = "EUR"

// Parser decodes API JSON and scraped HTML. It is stateless apart from its
// clock and safe for concurrent use.
type Parser struct {
	now func() time.Time
}

// New returns a Parser using the wall clock.
func New() *Parser {
	return &Parser{now: time.Now}
}

// WithClock replaces the time source used for provenance. Intended for tests.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	p.now = now
	return p
}

// Parse extracts a draw for targetDate from raw. API sources are decoded as
// JSON, official and mirror sources as HTML.
func (p *Parser) Parse(raw []byte, desc model.SourceDescriptor, targetDate time.Time) (*model.Draw, error) {
	var (
		ex  *extraction
		err error
	)
	if desc.Kind == model.SourceAPI {
		ex, err = parseJSON(raw, desc, targetDate)
	} else {
		ex, err = parseHTML(raw, desc)
	}
	if err != nil {
		return nil, err
	}
	if ex.date.IsZero() {
		ex.date = targetDate
	}
	if !targetDate.IsZero() && model.DateKey(ex.date) != model.DateKey(targetDate) {
		return nil, &ParseError{
			Kind:     DateMismatch,
			SourceID: desc.ID,
			Field:    "date " + model.DateKey(ex.date) + " != " + model.DateKey(targetDate),
		}
	}

	prov := &model.Provenance{
		SourceID:      desc.ID,
		FetchedAt:     p.now().UTC(),
		Method:        model.MethodScraped,
		ParseWarnings: ex.warnings,
	}
	d, err := model.NewDraw(ex.date, ex.numbers, ex.stars, ex.rows, prov)
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return nil, &ParseError{Kind: InvalidDraw, SourceID: desc.ID, Field: ve.Field, Err: err}
		}
		return nil, &ParseError{Kind: InvalidDraw, SourceID: desc.ID, Err: err}
	}
	return d, nil
}

// extraction is the structural result before validation.
type extraction struct {
	date     time.Time
	numbers  []int
	stars    []int
	rows     []model.PrizeRow
	warnings []string
}

func currencyFor(desc model.SourceDescriptor) string {
	if desc.Currency != "" {
		return desc.Currency
	}
	return DefaultCurrency
}
