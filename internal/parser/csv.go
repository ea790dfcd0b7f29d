package parser

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/dgallion1/docchunk/internal/doctree"
)

// csvBatchRows is the number of data rows grouped into one unit.
const csvBatchRows = 20

// CSVParser turns a CSV file into units of up to csvBatchRows rows, each
// row rendered as "header: value" pairs.
type CSVParser struct{}

func (p *CSVParser) ParseFile(ctx context.Context, path string) ([]doctree.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	headers := records[0]
	rows := records[1:]
	var units []doctree.Unit
	for i := 0; i < len(rows); i += csvBatchRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(i+csvBatchRows, len(rows))

		var text strings.Builder
		text.WriteString("Headers: " + strings.Join(headers, ", ") + "\n")
		for _, row := range rows[i:end] {
			cells := make([]string, len(row))
			for j, cell := range row {
				if j < len(headers) {
					cells[j] = headers[j] + ": " + cell
				} else {
					cells[j] = cell
				}
			}
			text.WriteString(strings.Join(cells, ", ") + "\n")
		}

		units = append(units, doctree.Unit{
			Kind:  doctree.KindParagraph,
			Text:  strings.TrimSpace(text.String()),
			Lines: &doctree.LineRange{Start: i + 2, End: end + 1}, // 1-based, after the header row
		})
	}
	return units, nil
}
