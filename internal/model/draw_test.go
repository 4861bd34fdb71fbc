package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDate = time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC)

func validationKind(t *testing.T, err error) ValidationKind {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Kind
}

func TestNewDraw_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		numbers []int
		stars   []int
		want    ValidationKind
	}{
		{"four numbers", []int{1, 2, 3, 4}, []int{1, 2}, ValidationWrongCount},
		{"six numbers", []int{1, 2, 3, 4, 5, 6}, []int{1, 2}, ValidationWrongCount},
		{"one star", []int{1, 2, 3, 4, 5}, []int{1}, ValidationWrongCount},
		{"three stars", []int{1, 2, 3, 4, 5}, []int{1, 2, 3}, ValidationWrongCount},
		{"number zero", []int{0, 2, 3, 4, 5}, []int{1, 2}, ValidationOutOfRange},
		{"number 51", []int{1, 2, 3, 4, 51}, []int{1, 2}, ValidationOutOfRange},
		{"star zero", []int{1, 2, 3, 4, 5}, []int{0, 2}, ValidationOutOfRange},
		{"star 13", []int{1, 2, 3, 4, 5}, []int{1, 13}, ValidationOutOfRange},
		{"duplicate number", []int{1, 2, 3, 4, 4}, []int{1, 2}, ValidationDuplicateValue},
		{"duplicate star", []int{1, 2, 3, 4, 5}, []int{7, 7}, ValidationDuplicateValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := NewDraw(testDate, tt.numbers, tt.stars, nil, nil)
			require.Error(t, err)
			assert.Nil(t, d)
			assert.Equal(t, tt.want, validationKind(t, err))
		})
	}
}

func TestNewDraw_BoundaryValuesAccepted(t *testing.T) {
	t.Parallel()

	d, err := NewDraw(testDate, []int{50, 1, 2, 3, 49}, []int{12, 1}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 49, 50}, d.Numbers)
	assert.Equal(t, []int{1, 12}, d.Stars)
}

func TestNewDraw_MissingDate(t *testing.T) {
	t.Parallel()

	_, err := NewDraw(time.Time{}, []int{1, 2, 3, 4, 5}, []int{1, 2}, nil, nil)
	assert.Equal(t, ValidationMissingDate, validationKind(t, err))
}

func TestNewDraw_SortsAndDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	numbers := []int{5, 3, 1, 2, 4}
	stars := []int{9, 2}
	d, err := NewDraw(testDate, numbers, stars, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, d.Numbers)
	assert.Equal(t, []int{2, 9}, d.Stars)
	assert.Equal(t, []int{5, 3, 1, 2, 4}, numbers)
	assert.Equal(t, []int{9, 2}, stars)
}

func TestNewDraw_IDDeterministic(t *testing.T) {
	t.Parallel()

	a, err := NewDraw(testDate, []int{48, 7, 25, 12, 34}, []int{9, 3}, nil, nil)
	require.NoError(t, err)
	b, err := NewDraw(testDate.Add(15*time.Hour), []int{7, 12, 25, 34, 48}, []int{3, 9}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "2025-08-08|7-12-25-34-48|3-9", a.ID)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.ID, DrawID(testDate, []int{34, 48, 7, 12, 25}, []int{9, 3}))
}

func TestNewDraw_DateNormalizedToUTCMidnight(t *testing.T) {
	t.Parallel()

	paris := time.FixedZone("CEST", 2*3600)
	d, err := NewDraw(time.Date(2025, 8, 8, 21, 5, 0, 0, paris), []int{1, 2, 3, 4, 5}, []int{1, 2}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, testDate, d.Date)
	assert.Equal(t, "2025-08-08", d.DateKey())
}

func TestDraw_WithProvenanceReturnsCopy(t *testing.T) {
	t.Parallel()

	d, err := NewDraw(testDate, []int{1, 2, 3, 4, 5}, []int{1, 2}, nil, &Provenance{SourceID: "a", Method: MethodScraped})
	require.NoError(t, err)

	c := d.WithProvenance(Provenance{SourceID: "db", Method: MethodPersisted})
	assert.Equal(t, "a", d.Provenance.SourceID)
	assert.Equal(t, MethodScraped, d.Provenance.Method)
	assert.Equal(t, "db", c.Provenance.SourceID)
	assert.Equal(t, d.ID, c.ID)

	c.Numbers[0] = 42
	assert.Equal(t, 1, d.Numbers[0])
}

func TestDraw_BreakdownHelpers(t *testing.T) {
	t.Parallel()

	rows := []PrizeRow{
		{RankLabel: "5+2", WinnerCount: 1, UnitAmount: decimal.RequireFromString("17000000.50"), Currency: "EUR"},
		{RankLabel: "5+1", WinnerCount: 3, UnitAmount: decimal.RequireFromString("250000"), Currency: "EUR"},
		{RankLabel: "2+0", WinnerCount: 120000, UnitAmount: decimal.RequireFromString("4.10"), Currency: "EUR"},
	}
	d, err := NewDraw(testDate, []int{7, 12, 13, 34, 48}, []int{3, 9}, rows, nil)
	require.NoError(t, err)

	assert.True(t, d.Jackpot().Equal(decimal.RequireFromString("17000000.5")))
	assert.Equal(t, 120004, d.TotalWinners())
	assert.True(t, d.HasConsecutiveNumbers())
	assert.Equal(t, ParityStats{NumbersEven: 3, NumbersOdd: 2, StarsEven: 0, StarsOdd: 2}, d.Parity())

	empty, err := NewDraw(testDate, []int{1, 3, 5, 7, 9}, []int{1, 2}, nil, nil)
	require.NoError(t, err)
	assert.True(t, empty.Jackpot().IsZero())
	assert.Equal(t, 0, empty.TotalWinners())
	assert.False(t, empty.HasConsecutiveNumbers())
	assert.NotNil(t, empty.Breakdown)
}

func TestDraw_IsRecent(t *testing.T) {
	t.Parallel()

	d, err := NewDraw(testDate, []int{1, 2, 3, 4, 5}, []int{1, 2}, nil, nil)
	require.NoError(t, err)
	assert.True(t, d.IsRecent(testDate.AddDate(0, 0, 10)))
	assert.False(t, d.IsRecent(testDate.AddDate(0, 0, 45)))
}

func TestDraw_JSONShape(t *testing.T) {
	t.Parallel()

	d, err := NewDraw(testDate, []int{1, 2, 3, 4, 5}, []int{1, 2},
		[]PrizeRow{{RankLabel: "5+2", WinnerCount: 0, UnitAmount: decimal.RequireFromString("1234.56"), Currency: "EUR"}},
		&Provenance{SourceID: "lotteryextreme", FetchedAt: testDate, Method: MethodScraped})
	require.NoError(t, err)

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "2025-08-08T00:00:00Z", m["date"])
	assert.Equal(t, d.ID, m["id"])
	prov := m["provenance"].(map[string]any)
	assert.Equal(t, "lotteryextreme", prov["sourceId"])
	assert.Equal(t, "scraped", prov["method"])
	row := m["breakdown"].([]any)[0].(map[string]any)
	assert.Equal(t, "5+2", row["rankLabel"])
	assert.Equal(t, "1234.56", row["unitAmount"])

	var back Draw
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d.ID, back.ID)
	assert.True(t, back.Breakdown[0].UnitAmount.Equal(d.Breakdown[0].UnitAmount))
}

func TestSortByDateDesc(t *testing.T) {
	t.Parallel()

	mk := func(day int) *Draw {
		d, err := NewDraw(time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC), []int{1, 2, 3, 4, 5}, []int{1, 2}, nil, nil)
		require.NoError(t, err)
		return d
	}
	draws := []*Draw{mk(3), mk(10), mk(7)}
	SortByDateDesc(draws)
	assert.Equal(t, []string{"2025-01-10", "2025-01-07", "2025-01-03"},
		[]string{draws[0].DateKey(), draws[1].DateKey(), draws[2].DateKey()})
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2025-08-08")
	require.NoError(t, err)
	assert.Equal(t, testDate, d)

	_, err = ParseDate("08/08/2025")
	assert.Error(t, err)
}
