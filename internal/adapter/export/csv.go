// Package export renders reconstructed index history for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/quantfolio/indexd/internal/usecase/history"
)

var csvHeader = []string{"Index", "IndexId", "Date", "Price", "NormalizedValue"}

// WriteCSV streams a history cursor as CSV, one row per reconstructed day.
// Rows are flushed as the cursor advances, so a long range never buffers
// fully in memory.
func WriteCSV(w io.Writer, symbol string, indexID int, cur *history.Cursor) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for cur.Next() {
		p := cur.Point()
		row := []string{
			symbol,
			strconv.Itoa(indexID),
			p.Date.Format("2006-01-02"),
			p.Price.String(),
			p.NormalizedValue.String(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("reconstructing history: %w", err)
	}

	cw.Flush()
	return cw.Error()
}
