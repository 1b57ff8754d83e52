package report

import (
	"bufio"
	"io"
	"os"

	"github.com/goccy/go-json"

	"authwatch/internal/model"
)

// WriteJSONL writes one JSON document per finding, sample included.
func WriteJSONL(w io.Writer, findings []model.Finding) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, f := range findings {
		if err := enc.Encode(f); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteJSON writes the whole scan as one indented document.
func WriteJSON(w io.Writer, scan model.Scan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(scan)
}

// WriteFile creates path and renders findings into it with write.
func WriteFile(path string, findings []model.Finding, write func(io.Writer, []model.Finding) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, findings); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
