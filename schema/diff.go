package schema

// ColumnPair holds the before and after versions of an altered column.
type ColumnPair struct {
	Before Column
	After  Column
}

// Rename is an explicit column rename hint.
type Rename struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Diff is the structural difference between two states of the same table.
// It's derived by Compare and never persisted.
type Diff struct {
	Table string
	// Created is true if the table doesn't exist before the change.
	Created bool
	// Dropped is true if the table is declared to be dropped.
	Dropped bool

	Before State
	After  State

	AddedColumns       []Column
	DroppedColumns     []Column
	AlteredColumns     []ColumnPair
	RenamedColumns     []Rename
	AddedIndexes       []Index
	DroppedIndexes     []Index
	AddedForeignKeys   []ForeignKey
	DroppedForeignKeys []ForeignKey
	PrimaryKeyChanged  bool
}

// HasChanges reports whether the diff contains any structural change.
func (d Diff) HasChanges() bool {
	return len(d.AddedColumns) > 0 ||
		len(d.DroppedColumns) > 0 ||
		len(d.AlteredColumns) > 0 ||
		len(d.RenamedColumns) > 0 ||
		len(d.AddedIndexes) > 0 ||
		len(d.DroppedIndexes) > 0 ||
		len(d.AddedForeignKeys) > 0 ||
		len(d.DroppedForeignKeys) > 0 ||
		d.PrimaryKeyChanged
}

// DroppedColumn reports whether the column is dropped by this diff, either
// explicitly or because the whole table is dropped.
func (d Diff) DroppedColumn(name string) bool {
	for _, c := range d.DroppedColumns {
		if c.Name == name {
			return true
		}
	}
	return false
}
