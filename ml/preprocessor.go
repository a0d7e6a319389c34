package ml

import (
	"errors"
	"fmt"

	"irisnet/dataset"
)

// Range is the low and high of a column.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// NormalizeValue maps x from [dataLow, dataHigh] onto [normLow, normHigh].
// A degenerate data range maps every value to the middle of the target range.
func NormalizeValue(x, dataLow, dataHigh, normLow, normHigh float64) float64 {
	if dataHigh == dataLow {
		return (normLow + normHigh) / 2
	}
	return (x-dataLow)/(dataHigh-dataLow)*(normHigh-normLow) + normLow
}

// Preprocessor min-max scales the decimal input columns of a table. Column
// ranges come from the training rows only and are reused for every later
// Normalize call.
type Preprocessor struct {
	Low  float64
	High float64

	features     []string
	featureStats map[string]Range
}

// NewPreprocessor scales into [low, high].
func NewPreprocessor(low, high float64) *Preprocessor {
	return &Preprocessor{Low: low, High: high}
}

// ComputeStats records the range of every decimal column except label over
// the given rows.
func (p *Preprocessor) ComputeStats(t *dataset.Table, rows []int, label string) error {
	if len(rows) == 0 {
		return errors.New("rows is empty")
	}
	if p.Low >= p.High {
		return fmt.Errorf("invalid normalized range [%v, %v]", p.Low, p.High)
	}

	p.features = p.features[:0]
	p.featureStats = make(map[string]Range)
	for _, col := range t.Columns {
		if col.Type != dataset.Decimal || col.Name == label {
			continue
		}
		r := Range{Low: col.Decimals[rows[0]], High: col.Decimals[rows[0]]}
		for _, row := range rows[1:] {
			v := col.Decimals[row]
			if v < r.Low {
				r.Low = v
			}
			if v > r.High {
				r.High = v
			}
		}
		p.features = append(p.features, col.Name)
		p.featureStats[col.Name] = r
	}
	if len(p.features) == 0 {
		return errors.New("no decimal input columns")
	}
	return nil
}

// Normalize returns one row-major input vector per requested row.
func (p *Preprocessor) Normalize(t *dataset.Table, rows []int) ([][]float64, error) {
	if p.featureStats == nil {
		return nil, errors.New("feature stats not computed")
	}

	columns := make([]*dataset.Column, len(p.features))
	for i, name := range p.features {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("missing column %s", name)
		}
		columns[i] = col
	}

	vectors := make([][]float64, len(rows))
	for i, row := range rows {
		vector := make([]float64, len(columns))
		for j, col := range columns {
			r := p.featureStats[p.features[j]]
			vector[j] = NormalizeValue(col.Decimals[row], r.Low, r.High, p.Low, p.High)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// NormalizeVector scales one raw measurement vector ordered as Features().
func (p *Preprocessor) NormalizeVector(values []float64) ([]float64, error) {
	if p.featureStats == nil {
		return nil, errors.New("feature stats not computed")
	}
	if len(values) != len(p.features) {
		return nil, fmt.Errorf("expected %d values, got %d", len(p.features), len(values))
	}
	result := make([]float64, len(values))
	for i, v := range values {
		r := p.featureStats[p.features[i]]
		result[i] = NormalizeValue(v, r.Low, r.High, p.Low, p.High)
	}
	return result, nil
}

// Features returns the input column names in vector order.
func (p *Preprocessor) Features() []string {
	return append([]string(nil), p.features...)
}

// FeatureStats returns a copy of the recorded column ranges.
func (p *Preprocessor) FeatureStats() map[string]Range {
	if p.featureStats == nil {
		return nil
	}
	stats := make(map[string]Range, len(p.featureStats))
	for key, r := range p.featureStats {
		stats[key] = r
	}
	return stats
}

// restorePreprocessor rebuilds a preprocessor from saved stats.
func restorePreprocessor(low, high float64, features []string, stats map[string]Range) (*Preprocessor, error) {
	p := NewPreprocessor(low, high)
	p.features = append([]string(nil), features...)
	p.featureStats = make(map[string]Range, len(stats))
	for _, name := range features {
		r, ok := stats[name]
		if !ok {
			return nil, fmt.Errorf("missing stats for %s", name)
		}
		p.featureStats[name] = r
	}
	return p, nil
}
