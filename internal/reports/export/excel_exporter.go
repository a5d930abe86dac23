package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExcelExporter exports data to Excel format
type ExcelExporter struct {
	file        *excelize.File
	options     ExcelOptions
	dateStyleID int
}

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	SheetName     string            `json:"sheet_name"`
	SummarySheet  string            `json:"summary_sheet"`
	IncludeHeader bool              `json:"include_header"`
	FreezeHeader  bool              `json:"freeze_header"`
	AutoFilter    bool              `json:"auto_filter"`
	AutoWidth     bool              `json:"auto_width"`
	HeaderStyle   *ExcelStyleConfig `json:"header_style,omitempty"`
	DataStyle     *ExcelStyleConfig `json:"data_style,omitempty"`
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool   `json:"font_bold"`
	FontSize  int    `json:"font_size"`
	FontColor string `json:"font_color"`
	FillColor string `json:"fill_color"`
	Alignment string `json:"alignment"` // left, center, right
	Border    bool   `json:"border"`
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:     "Pipeline",
		SummarySheet:  "Summary",
		IncludeHeader: true,
		FreezeHeader:  true,
		AutoFilter:    true,
		AutoWidth:     true,
		HeaderStyle: &ExcelStyleConfig{
			FontBold:  true,
			FontSize:  11,
			FillColor: "4472C4",
			FontColor: "FFFFFF",
			Alignment: "center",
			Border:    true,
		},
		DataStyle: &ExcelStyleConfig{
			FontSize:  11,
			Alignment: "left",
			Border:    true,
		},
	}
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	file := excelize.NewFile()
	_ = file.SetSheetName("Sheet1", options.SheetName)

	return &ExcelExporter{
		file:    file,
		options: options,
	}
}

// WriteHeader writes the header row with styling
func (e *ExcelExporter) WriteHeader(columns []string) error {
	if !e.options.IncludeHeader {
		return nil
	}
	sheet := e.options.SheetName

	headerStyleID := 0
	if e.options.HeaderStyle != nil {
		style, err := e.createStyle(e.options.HeaderStyle)
		if err != nil {
			return fmt.Errorf("failed to create header style: %w", err)
		}
		headerStyleID = style
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := e.file.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if headerStyleID > 0 {
			_ = e.file.SetCellStyle(sheet, cell, cell, headerStyleID)
		}
	}

	if e.options.FreezeHeader {
		_ = e.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	return nil
}

// WriteRows writes data rows
func (e *ExcelExporter) WriteRows(rows []map[string]interface{}, columns []string) error {
	sheet := e.options.SheetName
	startRow := 1
	if e.options.IncludeHeader {
		startRow = 2
	}

	dataStyleID := 0
	if e.options.DataStyle != nil {
		style, err := e.createStyle(e.options.DataStyle)
		if err != nil {
			return fmt.Errorf("failed to create data style: %w", err)
		}
		dataStyleID = style
	}

	widths := make(map[int]float64)
	for i, col := range columns {
		widths[i] = float64(len(col)) * 1.2
	}

	for rowIdx, row := range rows {
		rowNum := startRow + rowIdx
		for colIdx, colName := range columns {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowNum)
			val := row[colName]

			if dataStyleID > 0 {
				_ = e.file.SetCellStyle(sheet, cell, cell, dataStyleID)
			}
			if err := e.setCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}
			if w := estimateCellWidth(val); w > widths[colIdx] {
				widths[colIdx] = w
			}
		}
	}

	if e.options.AutoFilter && e.options.IncludeHeader && len(rows) > 0 {
		lastCol, _ := excelize.CoordinatesToCellName(len(columns), len(rows)+1)
		_ = e.file.AutoFilter(sheet, "A1:"+lastCol, nil)
	}

	if e.options.AutoWidth {
		for colIdx, width := range widths {
			colName, _ := excelize.ColumnNumberToName(colIdx + 1)
			// min 10, max 50
			width = max(10, min(width, 50))
			_ = e.file.SetColWidth(sheet, colName, colName, width)
		}
	}
	return nil
}

// WriteSummary writes label/value pairs to the summary sheet.
func (e *ExcelExporter) WriteSummary(items []SummaryItem) error {
	if len(items) == 0 || e.options.SummarySheet == "" {
		return nil
	}
	if _, err := e.file.NewSheet(e.options.SummarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	for i, item := range items {
		labelCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+1)
		_ = e.file.SetCellValue(e.options.SummarySheet, labelCell, item.Label)
		if err := e.setCellValue(e.options.SummarySheet, valueCell, item.Value); err != nil {
			return err
		}
	}
	return e.file.SetColWidth(e.options.SummarySheet, "A", "A", 30)
}

// WriteTable writes header, rows and summary.
func (e *ExcelExporter) WriteTable(t *Table) error {
	if err := e.WriteHeader(t.Labels()); err != nil {
		return err
	}
	if err := e.WriteRows(t.Rows, t.Keys()); err != nil {
		return err
	}
	return e.WriteSummary(t.Summary)
}

// WriteTo writes the Excel file to a writer
func (e *ExcelExporter) WriteTo(w io.Writer) error {
	return e.file.Write(w)
}

// Close closes the Excel file
func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

func (e *ExcelExporter) createStyle(config *ExcelStyleConfig) (int, error) {
	style := &excelize.Style{
		Font: &excelize.Font{
			Bold:  config.FontBold,
			Size:  float64(config.FontSize),
			Color: config.FontColor,
		},
	}
	if config.FillColor != "" {
		style.Fill = excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{config.FillColor},
		}
	}
	if config.Alignment != "" {
		style.Alignment = &excelize.Alignment{Horizontal: config.Alignment}
	}
	if config.Border {
		style.Border = []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		}
	}
	return e.file.NewStyle(style)
}

func (e *ExcelExporter) setCellValue(sheet, cell string, val interface{}) error {
	switch v := val.(type) {
	case nil:
		return e.file.SetCellValue(sheet, cell, "")
	case time.Time:
		if v.IsZero() {
			return e.file.SetCellValue(sheet, cell, "")
		}
		if err := e.file.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		return e.applyDateStyle(sheet, cell)
	case *time.Time:
		if v == nil || v.IsZero() {
			return e.file.SetCellValue(sheet, cell, "")
		}
		if err := e.file.SetCellValue(sheet, cell, *v); err != nil {
			return err
		}
		return e.applyDateStyle(sheet, cell)
	case fmt.Stringer:
		return e.file.SetCellValue(sheet, cell, v.String())
	default:
		return e.file.SetCellValue(sheet, cell, v)
	}
}

func (e *ExcelExporter) applyDateStyle(sheet, cell string) error {
	if e.dateStyleID == 0 {
		format := "yyyy-mm-dd hh:mm"
		style, err := e.file.NewStyle(&excelize.Style{CustomNumFmt: &format})
		if err != nil {
			return err
		}
		e.dateStyleID = style
	}
	return e.file.SetCellStyle(sheet, cell, cell, e.dateStyleID)
}

func estimateCellWidth(val interface{}) float64 {
	if val == nil {
		return 0
	}
	return float64(len(fmt.Sprintf("%v", val))) * 1.2
}
