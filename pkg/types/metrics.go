package types

import "time"

// MetricsSample is one reading of host resource usage.
type MetricsSample struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpuPercent"`

	MemoryTotal     uint64  `json:"memoryTotal"`
	MemoryAvailable uint64  `json:"memoryAvailable"`
	MemoryPercent   float64 `json:"memoryPercent"`

	DiskTotal   uint64  `json:"diskTotal"`
	DiskUsed    uint64  `json:"diskUsed"`
	DiskPercent float64 `json:"diskPercent"`
}

// RecordTime implements storage.Record.
func (m MetricsSample) RecordTime() time.Time {
	return m.Timestamp
}

// RecordKey implements storage.Record. Metrics samples are never deduplicated.
func (m MetricsSample) RecordKey() string {
	return ""
}

// MetricsSeries is the column-oriented view of a run of metrics samples that
// chart readers want.
type MetricsSeries struct {
	Timestamps    []time.Time    `json:"timestamps"`
	CPUPercent    []float64      `json:"cpuPercent"`
	MemoryPercent []float64      `json:"memoryPercent"`
	DiskPercent   []float64      `json:"diskPercent"`
	Latest        *MetricsSample `json:"latest,omitempty"`
}

// NewMetricsSeries pivots samples (oldest first) into a MetricsSeries.
func NewMetricsSeries(samples []MetricsSample) MetricsSeries {
	s := MetricsSeries{
		Timestamps:    make([]time.Time, 0, len(samples)),
		CPUPercent:    make([]float64, 0, len(samples)),
		MemoryPercent: make([]float64, 0, len(samples)),
		DiskPercent:   make([]float64, 0, len(samples)),
	}
	for _, m := range samples {
		s.Timestamps = append(s.Timestamps, m.Timestamp)
		s.CPUPercent = append(s.CPUPercent, m.CPUPercent)
		s.MemoryPercent = append(s.MemoryPercent, m.MemoryPercent)
		s.DiskPercent = append(s.DiskPercent, m.DiskPercent)
	}
	if len(samples) > 0 {
		latest := samples[len(samples)-1]
		s.Latest = &latest
	}
	return s
}
