package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// Metric 指标数据点
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`
}

// maxHistory bounds the values kept per metric name.
const maxHistory = 1000

// MetricsCollector 指标收集器，保留训练指标的最近取值
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string][]*Metric

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:   make(map[string][]*Metric),
		startTime: time.Now(),
	}
}

// RecordMetric 记录指标
func (mc *MetricsCollector) RecordMetric(metric *Metric) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	metric.Timestamp = time.Now()
	history := append(mc.metrics[metric.Name], metric)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	mc.metrics[metric.Name] = history
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name, help string, value float64) {
	mc.mu.RLock()
	var current float64
	if history := mc.metrics[name]; len(history) > 0 {
		current = history[len(history)-1].Value
	}
	mc.mu.RUnlock()

	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeCounter, Value: current + value, Help: help})
}

// SetGauge 设置仪表值
func (mc *MetricsCollector) SetGauge(name, help string, value float64) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeGauge, Value: value, Help: help})
}

// GetMetric 获取指标历史，按时间从旧到新
func (mc *MetricsCollector) GetMetric(name string) ([]Metric, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	history, ok := mc.metrics[name]
	if !ok {
		return nil, fmt.Errorf("metric %s not found", name)
	}
	result := make([]Metric, len(history))
	for i, m := range history {
		result[i] = *m
	}
	return result, nil
}

// Latest 获取指标最新值
func (mc *MetricsCollector) Latest(name string) (float64, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	history := mc.metrics[name]
	if len(history) == 0 {
		return 0, false
	}
	return history[len(history)-1].Value, true
}

// ExportPrometheus 导出Prometheus格式
// Only the latest value of each metric is written.
func (mc *MetricsCollector) ExportPrometheus() string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	names := make([]string, 0, len(mc.metrics))
	for name := range mc.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		history := mc.metrics[name]
		if len(history) == 0 {
			continue
		}
		metric := history[len(history)-1]
		help := metric.Help
		if help == "" {
			help = fmt.Sprintf("Metric %s", name)
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, metric.Type)
		fmt.Fprintf(&b, "%s %g\n", name, metric.Value)
	}
	return b.String()
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// GetSystemStats 获取系统统计
func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime":     mc.GetUptime().String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc":      m.Alloc,
			"heap_inuse": m.HeapInuse,
			"sys":        m.Sys,
			"gc_count":   m.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}
}

// Names of the metrics recorded for training runs.
const (
	MetricRunsTotal    = "irisnet_training_runs_total"
	MetricRunsFailed   = "irisnet_training_runs_failed_total"
	MetricEpochsTotal  = "irisnet_training_epochs_total"
	MetricLastAccuracy = "irisnet_last_run_accuracy"
	MetricLastError    = "irisnet_last_run_error"
	MetricLastEpochs   = "irisnet_last_run_epochs"
	MetricLastDuration = "irisnet_last_run_duration_seconds"
	MetricRejectedRows = "irisnet_rejected_rows_total"
)

// RecordRun 记录一次完成的训练
func (mc *MetricsCollector) RecordRun(epochs int, finalError, accuracy float64, rejected int, elapsed time.Duration) {
	mc.IncrCounter(MetricRunsTotal, "Finished training runs", 1)
	mc.IncrCounter(MetricEpochsTotal, "Epochs trained across all runs", float64(epochs))
	mc.IncrCounter(MetricRejectedRows, "Rows rejected while cleaning datasets", float64(rejected))
	mc.SetGauge(MetricLastAccuracy, "Test accuracy of the latest run", accuracy)
	mc.SetGauge(MetricLastError, "Final training error of the latest run", finalError)
	mc.SetGauge(MetricLastEpochs, "Epochs of the latest run", float64(epochs))
	mc.SetGauge(MetricLastDuration, "Wall time of the latest run", elapsed.Seconds())
}

// RecordFailure 记录一次失败的训练
func (mc *MetricsCollector) RecordFailure() {
	mc.IncrCounter(MetricRunsFailed, "Failed training runs", 1)
}
