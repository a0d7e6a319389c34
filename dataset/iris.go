package dataset

import (
	"fmt"
	"math/rand"

	"github.com/pointlander/datum/iris"
)

// IrisLabel is the header of the species column in the built-in data.
const IrisLabel = "iris"

// IrisColumns are the column types of the built-in data.
const IrisColumns = "DDDDN"

var irisHeaders = []string{"sepal_length", "sepal_width", "petal_length", "petal_width"}

// Iris returns Fisher's iris measurements as a Table. Only Shuffle and Seed
// from opts are used.
func Iris(opts Options) (*Table, error) {
	datum, err := iris.Load()
	if err != nil {
		return nil, fmt.Errorf("load built-in iris data: %w", err)
	}

	table := &Table{Columns: make([]Column, 0, len(irisHeaders)+1)}
	for _, name := range irisHeaders {
		table.Columns = append(table.Columns, Column{
			Name:     name,
			Type:     Decimal,
			Decimals: make([]float64, 0, len(datum.Fisher)),
		})
	}
	table.Columns = append(table.Columns, Column{
		Name:     IrisLabel,
		Type:     Nominal,
		Nominals: make([]string, 0, len(datum.Fisher)),
	})

	for row, flower := range datum.Fisher {
		if len(flower.Measures) != len(irisHeaders) {
			return nil, fmt.Errorf("row %d: %w", row+1, ErrFieldMismatch)
		}
		for i, m := range flower.Measures {
			table.Columns[i].Decimals = append(table.Columns[i].Decimals, m)
		}
		label := &table.Columns[len(irisHeaders)]
		label.Nominals = append(label.Nominals, flower.Label)
	}
	if table.Rows() == 0 {
		return nil, ErrNoRows
	}

	if opts.Shuffle {
		table.Shuffle(rand.New(rand.NewSource(opts.Seed)))
	}
	return table, nil
}
