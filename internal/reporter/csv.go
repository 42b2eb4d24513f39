package reporter

import (
	"encoding/csv"
	"io"
)

// CSVReporter writes one row per result
type CSVReporter struct {
	writer io.Writer
}

// NewCSVReporter creates a new CSV reporter
func NewCSVReporter(writer io.Writer) *CSVReporter {
	return &CSVReporter{writer: writer}
}

// Generate writes a header row followed by the results
func (r *CSVReporter) Generate(doc *Document) error {
	w := csv.NewWriter(r.writer)
	if err := w.Write(columns); err != nil {
		return err
	}
	for _, res := range doc.Results {
		if err := w.Write(row(res)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
