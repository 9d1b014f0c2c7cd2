// Package metrics implements a bounded in-memory metrics collector with
// JSONL export and nearest-rank percentile summaries.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrNoRecords is returned when a summary is requested for a metric with no
// recorded points.
var ErrNoRecords = errors.New("no records for metric")

// DefaultMaxRecords bounds the ring buffer when no size is configured.
const DefaultMaxRecords = 10000

// Record is a single metric point.
type Record struct {
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Unit   string            `json:"unit,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Ts     float64           `json:"ts"`      // seconds since collector start, monotonic
	WallTs string            `json:"wall_ts"` // ISO 8601 UTC
}

// Summary aggregates the recorded points for one metric name.
type Summary struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// Filter narrows GetRecords results. Zero values match everything.
type Filter struct {
	Name string
	// Window keeps only records younger than this duration.
	Window time.Duration
	// Tags must all be present with equal values on a matching record.
	Tags map[string]string
}

// Collector is a thread-safe ring buffer of metric records. The oldest
// record is dropped on overflow.
type Collector struct {
	mu         sync.Mutex
	records    []Record
	maxRecords int
	start      time.Time
	flushed    int // records already written by Flush
	jsonlPath  string
}

// NewCollector creates a collector bounded to maxRecords points writing
// JSONL to jsonlPath on Flush. maxRecords <= 0 selects DefaultMaxRecords.
func NewCollector(maxRecords int, jsonlPath string) *Collector {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Collector{
		maxRecords: maxRecords,
		start:      time.Now(),
		jsonlPath:  jsonlPath,
	}
}

// Record appends a metric point, evicting the oldest on overflow.
func (c *Collector) Record(name string, value float64, unit string, tags map[string]string) {
	now := time.Now()
	rec := Record{
		Name:   name,
		Value:  value,
		Unit:   unit,
		Tags:   tags,
		Ts:     now.Sub(c.start).Seconds(),
		WallTs: now.UTC().Format(time.RFC3339Nano),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	if len(c.records) > c.maxRecords {
		drop := len(c.records) - c.maxRecords
		c.records = c.records[drop:]
		c.flushed -= drop
		if c.flushed < 0 {
			c.flushed = 0
		}
	}
}

// GetRecords returns a copy of records matching the filter, oldest first.
func (c *Collector) GetRecords(f Filter) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := -1.0
	if f.Window > 0 {
		cutoff = time.Since(c.start).Seconds() - f.Window.Seconds()
	}

	var out []Record
	for _, rec := range c.records {
		if f.Name != "" && rec.Name != f.Name {
			continue
		}
		if cutoff >= 0 && rec.Ts < cutoff {
			continue
		}
		if !tagsSuperset(rec.Tags, f.Tags) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Summarize computes count, total, mean, min, max and p50/p90/p99 for a
// metric name. Returns ErrNoRecords when the metric has no points.
func (c *Collector) Summarize(name string) (Summary, error) {
	records := c.GetRecords(Filter{Name: name})
	if len(records) == 0 {
		return Summary{}, fmt.Errorf("%w: %s", ErrNoRecords, name)
	}

	values := make([]float64, len(records))
	total := 0.0
	for i, rec := range records {
		values[i] = rec.Value
		total += rec.Value
	}
	sort.Float64s(values)

	return Summary{
		Name:  name,
		Count: len(values),
		Total: total,
		Mean:  total / float64(len(values)),
		Min:   values[0],
		Max:   values[len(values)-1],
		P50:   nearestRank(values, 50),
		P90:   nearestRank(values, 90),
		P99:   nearestRank(values, 99),
	}, nil
}

// Flush appends unflushed records to the JSONL file, creating the parent
// directory if needed. Returns the number of records written.
func (c *Collector) Flush() (int, error) {
	if c.jsonlPath == "" {
		return 0, errors.New("no jsonl path configured")
	}

	c.mu.Lock()
	pending := make([]Record, len(c.records[c.flushed:]))
	copy(pending, c.records[c.flushed:])
	c.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.jsonlPath), 0o755); err != nil {
		return 0, fmt.Errorf("create metrics dir: %w", err)
	}
	f, err := os.OpenFile(c.jsonlPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open metrics jsonl: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	written := 0
	for _, rec := range pending {
		if err := enc.Encode(rec); err != nil {
			break
		}
		written++
	}

	c.mu.Lock()
	c.flushed += written
	c.mu.Unlock()
	return written, nil
}

// Len returns the current number of buffered records.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// nearestRank returns the p-th percentile of sorted values using the
// nearest-rank method: ceil(p/100 * n), 1-based.
func nearestRank(sorted []float64, p int) float64 {
	n := len(sorted)
	rank := (p*n + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

// tagsSuperset reports whether have contains every key/value in want.
func tagsSuperset(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
