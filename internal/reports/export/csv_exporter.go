package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// CSVOptions controls how cell values are rendered.
type CSVOptions struct {
	Delimiter       rune
	UseCRLF         bool
	IncludeHeader   bool
	TimestampFormat string
	NumberFormat    string // applied to floats, e.g. "%.2f"
	NullValue       string
}

func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:       ',',
		IncludeHeader:   true,
		TimestampFormat: time.RFC3339,
		NumberFormat:    "%.2f",
	}
}

// CSVExporter streams a Table as CSV. Summary items are not written; CSV
// consumers expect one rectangular table.
type CSVExporter struct {
	writer  *csv.Writer
	options CSVOptions
}

func NewCSVExporter(w io.Writer, options CSVOptions) *CSVExporter {
	writer := csv.NewWriter(w)
	writer.Comma = options.Delimiter
	writer.UseCRLF = options.UseCRLF
	return &CSVExporter{writer: writer, options: options}
}

// WriteTable writes the header, every row, and flushes.
func (e *CSVExporter) WriteTable(t *Table) error {
	if e.options.IncludeHeader {
		if err := e.writer.Write(t.Labels()); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	keys := t.Keys()
	record := make([]string, len(keys))
	for _, row := range t.Rows {
		for i, key := range keys {
			record[i] = e.formatValue(row[key])
		}
		if err := e.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	e.writer.Flush()
	return e.writer.Error()
}

func (e *CSVExporter) formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return e.options.NullValue
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if e.options.NumberFormat != "" {
			return fmt.Sprintf(e.options.NumberFormat, v)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		if v.IsZero() {
			return e.options.NullValue
		}
		return v.Format(e.options.TimestampFormat)
	case *time.Time:
		if v == nil || v.IsZero() {
			return e.options.NullValue
		}
		return v.Format(e.options.TimestampFormat)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
