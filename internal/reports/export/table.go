package export

// Column is one exported field: Key indexes the row map, Label heads the column.
type Column struct {
	Key   string
	Label string
}

// SummaryItem is one labelled figure shown above or beside the table.
type SummaryItem struct {
	Label string
	Value interface{}
}

// Table is the format-independent shape every exporter consumes.
type Table struct {
	Title    string
	Subtitle string
	Columns  []Column
	Rows     []map[string]interface{}
	Summary  []SummaryItem
}

func (t *Table) Keys() []string {
	keys := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		keys[i] = c.Key
	}
	return keys
}

func (t *Table) Labels() []string {
	labels := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		labels[i] = c.Label
	}
	return labels
}
