package dataset

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Rule 数据校验规则
type Rule interface {
	Check(t *Table, row int) error
	Name() string
}

// Issue 数据质量问题，记录被拒绝的行及原因
type Issue struct {
	Rule    string    `json:"rule"`
	Row     int       `json:"row"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// CleaningStats 清洗统计，累计该清洗器的所有 Clean 调用
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// Cleaner 数据清洗器，丢弃未通过任一规则的行
type Cleaner struct {
	rules []Rule

	mu    sync.RWMutex
	stats CleaningStats
}

// NewCleaner 创建数据清洗器，未指定规则时使用 FiniteRule 和 LabelRule
func NewCleaner(rules ...Rule) *Cleaner {
	if len(rules) == 0 {
		rules = []Rule{FiniteRule{}, LabelRule{}}
	}
	return &Cleaner{
		rules: rules,
		stats: CleaningStats{Issues: make(map[string]int64)},
	}
}

// Clean 清洗数据表
// Only rows that pass every rule are kept. Issue.Row is the 0-based data
// row of the source, before any shuffle.
func (c *Cleaner) Clean(t *Table) (*Table, []Issue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var issues []Issue
	keep := make([]int, 0, t.Rows())
	for row := 0; row < t.Rows(); row++ {
		c.stats.TotalProcessed++

		rejected := false
		for _, rule := range c.rules {
			if err := rule.Check(t, row); err != nil {
				issues = append(issues, Issue{
					Rule:    rule.Name(),
					Row:     t.Origin(row),
					Message: err.Error(),
					Time:    time.Now(),
				})
				c.stats.Issues[rule.Name()]++
				rejected = true
			}
		}

		if rejected {
			c.stats.Rejected++
			continue
		}
		c.stats.Passed++
		keep = append(keep, row)
	}
	c.stats.LastClean = time.Now()

	if len(keep) == t.Rows() {
		return t, issues
	}
	return t.Subset(keep), issues
}

// Stats 获取清洗统计副本
func (c *Cleaner) Stats() CleaningStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Issues = make(map[string]int64, len(c.stats.Issues))
	for k, v := range c.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// FiniteRule 数值有效性规则，拒绝 NaN 和无穷值
type FiniteRule struct{}

func (FiniteRule) Name() string { return "finite" }

func (FiniteRule) Check(t *Table, row int) error {
	for _, col := range t.Columns {
		if col.Type != Decimal {
			continue
		}
		v := col.Decimals[row]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("column %q is not finite: %v", col.Name, v)
		}
	}
	return nil
}

// LabelRule 标签非空规则
type LabelRule struct{}

func (LabelRule) Name() string { return "label" }

func (LabelRule) Check(t *Table, row int) error {
	for _, col := range t.Columns {
		if col.Type == Nominal && col.Nominals[row] == "" {
			return fmt.Errorf("column %q is empty", col.Name)
		}
	}
	return nil
}
