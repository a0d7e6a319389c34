package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var (
	ErrFieldMismatch = errors.New("field count does not match column types")
	ErrNoRows        = errors.New("dataset has no data rows")
)

// Options controls how a delimited file is turned into a Table.
type Options struct {
	Types []ColumnType
	// Encoding is a WHATWG encoding name such as "gbk" or "windows-1252".
	// Empty means the input is already UTF-8.
	Encoding string
	Shuffle  bool
	Seed     int64
	Comma    rune
}

// LoadFile reads a delimited file from disk.
func LoadFile(path string, opts Options) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = file
	if opts.Encoding != "" && !strings.EqualFold(opts.Encoding, "utf-8") && !strings.EqualFold(opts.Encoding, "utf8") {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return nil, fmt.Errorf("unknown encoding %q: %w", opts.Encoding, err)
		}
		r = transform.NewReader(file, enc.NewDecoder())
	}

	table, err := Load(r, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return table, nil
}

// Load parses delimited records. The first record is the header row.
func Load(r io.Reader, opts Options) (*Table, error) {
	if len(opts.Types) == 0 {
		return nil, errors.New("column types are required")
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	table := &Table{}
	// index into table.Columns for each input column, -1 when skipped
	slots := make([]int, len(opts.Types))
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row++

		if len(record) != len(opts.Types) {
			return nil, fmt.Errorf("row %d: %w (got %d, want %d)", row, ErrFieldMismatch, len(record), len(opts.Types))
		}

		if row == 1 {
			if err := table.setHeader(record, opts.Types, slots); err != nil {
				return nil, err
			}
			continue
		}

		for col, field := range record {
			slot := slots[col]
			if slot < 0 {
				continue
			}
			column := &table.Columns[slot]
			field = strings.TrimSpace(field)
			switch column.Type {
			case Decimal:
				d, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, fmt.Errorf("row %d column %q: %w", row, column.Name, err)
				}
				column.Decimals = append(column.Decimals, d)
			case Nominal:
				column.Nominals = append(column.Nominals, field)
			}
		}
	}

	if len(table.Columns) == 0 {
		if row == 0 {
			return nil, errors.New("dataset is empty")
		}
		return nil, errors.New("every column is skipped")
	}
	if table.Rows() == 0 {
		return nil, ErrNoRows
	}

	if opts.Shuffle {
		table.Shuffle(rand.New(rand.NewSource(opts.Seed)))
	}
	return table, nil
}

func (t *Table) setHeader(record []string, types []ColumnType, slots []int) error {
	seen := make(map[string]bool, len(record))
	for col, title := range record {
		title = strings.TrimSpace(title)
		switch types[col] {
		case Skip:
			slots[col] = -1
			continue
		case Decimal, Nominal:
		default:
			return fmt.Errorf("bad column type %q for column %d", byte(types[col]), col)
		}
		if seen[title] {
			return fmt.Errorf("duplicate column %q", title)
		}
		seen[title] = true
		slots[col] = len(t.Columns)
		t.Columns = append(t.Columns, Column{Name: title, Type: types[col]})
	}
	return nil
}
