package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// ColumnType tells the loader how to interpret a column.
type ColumnType byte

const (
	Decimal ColumnType = 'D'
	Nominal ColumnType = 'N'
	Skip    ColumnType = '-'
)

func (c ColumnType) String() string {
	switch c {
	case Decimal:
		return "decimal"
	case Nominal:
		return "nominal"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("ColumnType(%q)", byte(c))
	}
}

// ParseColumnTypes turns a string such as "DDDDN" into column types.
func ParseColumnTypes(s string) ([]ColumnType, error) {
	if s == "" {
		return nil, errors.New("column types are empty")
	}
	types := make([]ColumnType, len(s))
	for i := 0; i < len(s); i++ {
		switch ColumnType(s[i]) {
		case Decimal, Nominal, Skip:
			types[i] = ColumnType(s[i])
		default:
			return nil, fmt.Errorf("bad column type %q at position %d", s[i], i)
		}
	}
	return types, nil
}

// Column holds one stored column. Only the slice matching Type is populated.
type Column struct {
	Name     string
	Type     ColumnType
	Decimals []float64
	Nominals []string
}

func (c *Column) len() int {
	if c.Type == Nominal {
		return len(c.Nominals)
	}
	return len(c.Decimals)
}

// Table is a column-major dataset. Skipped columns are never stored.
type Table struct {
	Columns []Column

	// origins[i] is the position row i had when the table was loaded. nil
	// means rows are still in load order.
	origins []int
}

// Rows returns the number of data rows.
func (t *Table) Rows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].len()
}

// Column returns the column with the given header.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// LabelColumn resolves the column being classified. An empty name selects the
// single nominal column.
func (t *Table) LabelColumn(classifying string) (*Column, error) {
	if classifying != "" {
		col, ok := t.Column(classifying)
		if !ok {
			return nil, fmt.Errorf("label column %q not found", classifying)
		}
		if col.Type != Nominal {
			return nil, fmt.Errorf("label column %q is %s, want nominal", classifying, col.Type)
		}
		return col, nil
	}

	var label *Column
	for i := range t.Columns {
		if t.Columns[i].Type != Nominal {
			continue
		}
		if label != nil {
			return nil, errors.New("more than one nominal column, label column must be named")
		}
		label = &t.Columns[i]
	}
	if label == nil {
		return nil, errors.New("no nominal column to classify")
	}
	return label, nil
}

// Classes returns the distinct values of a nominal column in sorted order.
func (t *Table) Classes(label *Column) []string {
	seen := make(map[string]struct{})
	classes := make([]string, 0, 4)
	for _, v := range label.Nominals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return classes
}

// Origin returns the 0-based data row that row was read from, counting
// from the first record after the header.
func (t *Table) Origin(row int) int {
	if t.origins == nil {
		return row
	}
	return t.origins[row]
}

// Shuffle applies one random permutation to every column. Origin keeps
// reporting where each row was loaded from.
func (t *Table) Shuffle(rng *rand.Rand) {
	rows := t.Rows()
	if t.origins == nil {
		t.origins = make([]int, rows)
		for i := range t.origins {
			t.origins[i] = i
		}
	}
	rng.Shuffle(rows, func(i, j int) {
		t.origins[i], t.origins[j] = t.origins[j], t.origins[i]
		for c := range t.Columns {
			col := &t.Columns[c]
			if col.Type == Nominal {
				col.Nominals[i], col.Nominals[j] = col.Nominals[j], col.Nominals[i]
			} else {
				col.Decimals[i], col.Decimals[j] = col.Decimals[j], col.Decimals[i]
			}
		}
	})
}

// Subset copies the given rows, in order, into a new table.
func (t *Table) Subset(rows []int) *Table {
	out := &Table{Columns: make([]Column, len(t.Columns))}
	for c, col := range t.Columns {
		dst := Column{Name: col.Name, Type: col.Type}
		if col.Type == Nominal {
			dst.Nominals = make([]string, len(rows))
			for i, r := range rows {
				dst.Nominals[i] = col.Nominals[r]
			}
		} else {
			dst.Decimals = make([]float64, len(rows))
			for i, r := range rows {
				dst.Decimals[i] = col.Decimals[r]
			}
		}
		out.Columns[c] = dst
	}
	if t.origins != nil {
		out.origins = make([]int, len(rows))
		for i, r := range rows {
			out.origins[i] = t.origins[r]
		}
	}
	return out
}
