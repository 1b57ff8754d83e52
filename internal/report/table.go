package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"authwatch/internal/model"
)

// SampleLines is how many sample events the table shows per finding.
const SampleLines = 5

// Table renders aligned, bordered tables. Cells may span several lines.
type Table struct {
	headers []string
	rows    [][]string
	right   map[int]bool
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers, right: map[int]bool{}}
}

// AlignRight right-justifies column i.
func (t *Table) AlignRight(i int) *Table {
	t.right[i] = true
	return t
}

// AddRow appends a row. Values are matched positionally to headers.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	copy(row, values)
	t.rows = append(t.rows, row)
}

func (t *Table) Render(w io.Writer) error {
	if len(t.headers) == 0 {
		return nil
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			for _, line := range strings.Split(cell, "\n") {
				widths[i] = max(widths[i], utf8.RuneCountInString(line))
			}
		}
	}

	rule := func(left, mid, right string) string {
		var b strings.Builder
		b.WriteString(left)
		for i, w := range widths {
			b.WriteString(strings.Repeat("─", w+2))
			if i < len(widths)-1 {
				b.WriteString(mid)
			}
		}
		b.WriteString(right)
		b.WriteString("\n")
		return b.String()
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		lines := make([][]string, len(cells))
		height := 1
		for i, cell := range cells {
			lines[i] = strings.Split(cell, "\n")
			height = max(height, len(lines[i]))
		}
		for l := 0; l < height; l++ {
			b.WriteString("│")
			for i := range cells {
				text := ""
				if l < len(lines[i]) {
					text = lines[i][l]
				}
				pad := strings.Repeat(" ", widths[i]-utf8.RuneCountInString(text))
				if t.right[i] {
					fmt.Fprintf(&b, " %s%s │", pad, text)
				} else {
					fmt.Fprintf(&b, " %s%s │", text, pad)
				}
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(rule("┌", "┬", "┐"))
	writeRow(t.headers)
	b.WriteString(rule("├", "┼", "┤"))
	for _, row := range t.rows {
		writeRow(row)
	}
	b.WriteString(rule("└", "┴", "┘"))
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteTable prints findings as a bordered table with the first sample
// events of each finding.
func WriteTable(w io.Writer, findings []model.Finding) error {
	if len(findings) == 0 {
		_, err := io.WriteString(w, "No findings.\n")
		return err
	}
	t := NewTable("Kind", "Key", "Count", "Window (min)", "Sample").AlignRight(2).AlignRight(3)
	for _, f := range findings {
		t.AddRow(string(f.Kind), f.Key, strconv.Itoa(f.Count), FormatMinutes(f.WindowMinutes), sampleText(f.Sample))
	}
	return t.Render(w)
}

func sampleText(sample []model.FailureEvent) string {
	lines := make([]string, 0, min(len(sample), SampleLines))
	for _, ev := range sample[:min(len(sample), SampleLines)] {
		lines = append(lines, fmt.Sprintf("[%s] %s@%s", ev.Timestamp.UTC().Format(time.RFC3339), ev.Username, ev.IP))
	}
	return strings.Join(lines, "\n")
}

// FormatMinutes renders minutes without trailing zeros ("5", "0.5").
func FormatMinutes(m float64) string {
	return strconv.FormatFloat(m, 'g', -1, 64)
}
