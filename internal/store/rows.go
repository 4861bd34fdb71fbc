package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/drawsync/internal/model"
)

const defaultListLimit = 100

// drawRow is the column form of a draw shared by both backends. Numbers and
// stars are stored as their dash-joined ID segments.
type drawRow struct {
	ID         string
	Date       string
	Numbers    string
	Stars      string
	SourceID   string
	Breakdown  []byte
	Provenance []byte
}

func encodeDraw(d *model.Draw) (drawRow, error) {
	if d == nil {
		return drawRow{}, eris.New("store: nil draw")
	}
	breakdown, err := json.Marshal(d.Breakdown)
	if err != nil {
		return drawRow{}, eris.Wrap(err, "store: marshal breakdown")
	}
	prov, err := json.Marshal(d.Provenance)
	if err != nil {
		return drawRow{}, eris.Wrap(err, "store: marshal provenance")
	}
	return drawRow{
		ID:         d.ID,
		Date:       d.DateKey(),
		Numbers:    joinInts(d.Numbers),
		Stars:      joinInts(d.Stars),
		SourceID:   d.Provenance.SourceID,
		Breakdown:  breakdown,
		Provenance: prov,
	}, nil
}

// decodeDraw rebuilds a draw through model.NewDraw so stored rows are
// revalidated on the way out.
func decodeDraw(date, numbers, stars string, breakdown, provenance []byte) (*model.Draw, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode date")
	}
	nums, err := splitInts(numbers)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode numbers")
	}
	strs, err := splitInts(stars)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode stars")
	}

	var rows []model.PrizeRow
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &rows); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal breakdown")
		}
	}
	var prov model.Provenance
	if len(provenance) > 0 {
		if err := json.Unmarshal(provenance, &prov); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal provenance")
		}
	}

	d, err := model.NewDraw(day, nums, strs, rows, &prov)
	if err != nil {
		return nil, eris.Wrap(err, "store: stored draw is invalid")
	}
	return d, nil
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "-")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func runDate(r *model.ScrapeRun) string {
	return model.DateKey(r.DrawDate)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
