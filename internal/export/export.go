// Package export writes stored draws as CSV or XLSX tables.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/drawsync/internal/model"
)

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("export: unsupported format %q", s)
	}
}

// Row is the flat, one-line-per-draw view used by both formats.
type Row struct {
	Date         string `csv:"date"`
	ID           string `csv:"id"`
	N1           int    `csv:"n1"`
	N2           int    `csv:"n2"`
	N3           int    `csv:"n3"`
	N4           int    `csv:"n4"`
	N5           int    `csv:"n5"`
	S1           int    `csv:"s1"`
	S2           int    `csv:"s2"`
	Jackpot      string `csv:"jackpot"`
	TotalWinners int    `csv:"total_winners"`
	Source       string `csv:"source"`
}

// Header lists the column names in output order.
var Header = []string{"date", "id", "n1", "n2", "n3", "n4", "n5", "s1", "s2", "jackpot", "total_winners", "source"}

// ToRow flattens a draw.
func ToRow(d *model.Draw) Row {
	r := Row{
		Date:         d.DateKey(),
		ID:           d.ID,
		Jackpot:      d.Jackpot().StringFixed(2),
		TotalWinners: d.TotalWinners(),
		Source:       d.Provenance.SourceID,
	}
	nums := [...]*int{&r.N1, &r.N2, &r.N3, &r.N4, &r.N5}
	for i, n := range d.Numbers {
		if i < len(nums) {
			*nums[i] = n
		}
	}
	if len(d.Stars) == 2 {
		r.S1, r.S2 = d.Stars[0], d.Stars[1]
	}
	return r
}

func (r Row) cells() []any {
	return []any{r.Date, r.ID, r.N1, r.N2, r.N3, r.N4, r.N5, r.S1, r.S2, r.Jackpot, r.TotalWinners, r.Source}
}

// WriteCSV writes draws to w with a header line. An empty slice still
// produces the header.
func WriteCSV(w io.Writer, draws []*model.Draw) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(Row{}); err != nil {
		return eris.Wrap(err, "export: csv header")
	}
	for _, d := range draws {
		if err := enc.Encode(ToRow(d)); err != nil {
			return eris.Wrapf(err, "export: csv row %s", d.ID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: csv flush")
	}
	return nil
}

// SheetName is the worksheet draws are written to.
const SheetName = "Draws"

// BuildXLSX lays draws out in a single worksheet.
func BuildXLSX(draws []*model.Draw) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "export: add sheet")
	}

	head := sheet.AddRow()
	for _, h := range Header {
		head.AddCell().SetString(h)
	}
	for _, d := range draws {
		row := sheet.AddRow()
		for _, v := range ToRow(d).cells() {
			cell := row.AddCell()
			switch v := v.(type) {
			case int:
				cell.SetInt(v)
			case string:
				cell.SetString(v)
			}
		}
	}
	return f, nil
}

// WriteXLSX writes draws to an .xlsx file at path.
func WriteXLSX(path string, draws []*model.Draw) error {
	f, err := BuildXLSX(draws)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// WriteFile writes draws to path in the given format.
func WriteFile(path string, format Format, draws []*model.Draw) error {
	switch format {
	case FormatXLSX:
		return WriteXLSX(path, draws)
	case FormatCSV:
		out, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", path)
		}
		if err := WriteCSV(out, draws); err != nil {
			out.Close() //nolint:errcheck
			return err
		}
		if err := out.Close(); err != nil {
			return eris.Wrap(err, "export: close")
		}
		return nil
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}
