// Package analytics aggregates the queries answered by a query server: volume,
// latency percentiles, cache effectiveness and the most frequent (and most
// frequently empty) queries.
package analytics

import (
	"sort"
	"sync"
	"time"
)

const (
	latencyWindow = 10000
	maxTracked    = 10000
	topListSize   = 10
)

// Event describes one answered query.
type Event struct {
	// Query is the canonical form of the query, so equivalent spellings
	// are counted together.
	Query     string
	TotalHits int
	Latency   time.Duration
	CacheHit  bool
}

type Stats struct {
	TotalSearches     int64        `json:"total_searches"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      float64      `json:"p50_latency_ms"`
	P95LatencyMs      float64      `json:"p95_latency_ms"`
	P99LatencyMs      float64      `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	Since             time.Time    `json:"since"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running totals and the latencies of the most recent
// queries. At most maxTracked distinct queries are counted per list.
type Aggregator struct {
	mu          sync.Mutex
	total       int64
	cacheHits   int64
	zeroResults int64
	latencies   []time.Duration
	next        int
	queries     map[string]int64
	zeroQueries map[string]int64
	start       time.Time
	now         func() time.Time
}

func New() *Aggregator {
	return &Aggregator{
		latencies:   make([]time.Duration, 0, latencyWindow),
		queries:     make(map[string]int64),
		zeroQueries: make(map[string]int64),
		start:       time.Now(),
		now:         time.Now,
	}
}

func (a *Aggregator) Record(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if ev.CacheHit {
		a.cacheHits++
	}
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, ev.Latency)
	} else {
		a.latencies[a.next] = ev.Latency
		a.next = (a.next + 1) % latencyWindow
	}
	count(a.queries, ev.Query)
	if ev.TotalHits == 0 {
		a.zeroResults++
		count(a.zeroQueries, ev.Query)
	}
}

func count(m map[string]int64, query string) {
	if _, ok := m[query]; ok || len(m) < maxTracked {
		m[query]++
	}
}

func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{
		TotalSearches:     a.total,
		CacheHits:         a.cacheHits,
		CacheMisses:       a.total - a.cacheHits,
		ZeroResultCount:   a.zeroResults,
		TopQueries:        topN(a.queries, topListSize),
		ZeroResultQueries: topN(a.zeroQueries, topListSize),
		Since:             a.start,
	}
	if len(a.latencies) > 0 {
		sorted := make([]time.Duration, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var sum time.Duration
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = millis(sum / time.Duration(len(sorted)))
		stats.P50LatencyMs = millis(percentile(sorted, 50))
		stats.P95LatencyMs = millis(percentile(sorted, 95))
		stats.P99LatencyMs = millis(percentile(sorted, 99))
	}
	if elapsed := a.now().Sub(a.start).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(a.total) / elapsed
	}
	return stats
}

// Reset discards everything recorded so far.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total, a.cacheHits, a.zeroResults = 0, 0, 0
	a.latencies = a.latencies[:0]
	a.next = 0
	clear(a.queries)
	clear(a.zeroQueries)
	a.start = a.now()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// percentile uses the nearest-rank method on sorted.
func percentile(sorted []time.Duration, pct int) time.Duration {
	idx := (pct*len(sorted)+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent queries; ties are ordered by query.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, c := range counts {
		result = append(result, QueryCount{Query: query, Count: c})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
