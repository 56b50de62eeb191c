package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// readCSV reads one CSV file into a header row plus data rows. The header is
// returned as-is except for a stripped UTF-8 BOM on the first cell; header
// normalization belongs to the transform stage.
func readCSV(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\uFEFF")

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", len(rows)+2, err)
		}
		row := make([]string, len(rec))
		copy(row, rec)
		rows = append(rows, row)
	}
	return header, rows, nil
}

// readHTMLTable reads the first <table> of an HTML document. The header comes
// from <thead> when present, otherwise from the first row; the remaining rows
// become data. Cell text is trimmed.
func readHTMLTable(r io.Reader) ([]string, [][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, nil, fmt.Errorf("no table element")
	}

	var header []string
	var rows [][]string

	headerRow := table.Find("thead tr").First()
	if headerRow.Length() > 0 {
		header = cellTexts(headerRow)
	}

	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		rows = append(rows, cellTexts(tr))
	})
	if len(rows) == 0 {
		// No tbody: take all rows directly under the table.
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			if tr.Closest("thead").Length() > 0 {
				return
			}
			rows = append(rows, cellTexts(tr))
		})
	}

	if header == nil {
		if len(rows) == 0 {
			return nil, nil, fmt.Errorf("table has no rows")
		}
		header = rows[0]
		rows = rows[1:]
	}
	return header, rows, nil
}

// cellTexts collects the trimmed text of every th/td cell in a row.
func cellTexts(tr *goquery.Selection) []string {
	var cells []string
	tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(cell.Text()))
	})
	return cells
}
