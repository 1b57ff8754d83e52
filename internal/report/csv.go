package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"authwatch/internal/model"
)

var csvHeader = []string{"kind", "key", "count", "window_minutes"}

// WriteCSV writes one summary row per finding. Samples are left to JSONL.
func WriteCSV(w io.Writer, findings []model.Finding) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range findings {
		row := []string{string(f.Kind), f.Key, strconv.Itoa(f.Count), FormatMinutes(f.WindowMinutes)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
