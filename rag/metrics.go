package rag

import (
	"sync"
	"time"
)

// PipelineMetrics is the optional observability hook. The pipeline functions
// identically with the noop or a real implementation: metrics never alter the
// answer path.
type PipelineMetrics interface {
	RecordRequest(method, path string, status int, latencyMS int64)
	RecordGate(routing string, latencyMS int64, err error)
	RecordGeneration(mode string, latencyMS int64, err error)
	RecordRetrieval(latencyMS int64, resultCount int, err error)
	RecordIngestDocument(key string, applied, failed int, latencyMS int64, err error)
	Snapshot() MetricsSnapshot
}

type RouteStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
}

type StageStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
}

type RetrievalStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
	TotalResults int64 `json:"total_results"`
}

type IngestStats struct {
	Documents         int64 `json:"documents"`
	ErrorCount        int64 `json:"error_count"`
	StatementsApplied int64 `json:"statements_applied"`
	StatementsFailed  int64 `json:"statements_failed"`
	LatencySumMS      int64 `json:"latency_sum_ms"`
}

type MetricsSnapshot struct {
	RouteStats      map[string]RouteStats `json:"route_stats"`
	GateStats       map[string]StageStats `json:"gate_stats"`
	GenerationStats map[string]StageStats `json:"generation_stats"`
	Retrieval       RetrievalStats        `json:"retrieval"`
	Ingest          IngestStats           `json:"ingest"`
	UptimeSeconds   int64                 `json:"uptime_seconds"`
	StartTime       time.Time             `json:"start_time"`
}

// noop implementation: used when metrics are disabled.
type NoopPipelineMetrics struct{}

func (NoopPipelineMetrics) RecordRequest(method, path string, status int, latencyMS int64) {}

func (NoopPipelineMetrics) RecordGate(routing string, latencyMS int64, err error) {}

func (NoopPipelineMetrics) RecordGeneration(mode string, latencyMS int64, err error) {}

func (NoopPipelineMetrics) RecordRetrieval(latencyMS int64, resultCount int, err error) {}

func (NoopPipelineMetrics) RecordIngestDocument(key string, applied, failed int, latencyMS int64, err error) {
}

func (NoopPipelineMetrics) Snapshot() MetricsSnapshot { return MetricsSnapshot{} }

// in-memory implementation: records counters into local maps.
type InMemPipelineMetrics struct {
	mu sync.Mutex

	routeStats      map[string]RouteStats
	gateStats       map[string]StageStats
	generationStats map[string]StageStats
	retrieval       RetrievalStats
	ingest          IngestStats

	startTime time.Time
}

func NewInMemPipelineMetrics() *InMemPipelineMetrics {
	return &InMemPipelineMetrics{
		routeStats:      make(map[string]RouteStats),
		gateStats:       make(map[string]StageStats),
		generationStats: make(map[string]StageStats),
		startTime:       time.Now().UTC(),
	}
}

func (m *InMemPipelineMetrics) RecordRequest(method, path string, status int, latencyMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := method + " " + path
	stats := m.routeStats[key]
	stats.Count++
	if status >= 500 {
		stats.ErrorCount++
	}
	stats.LatencySumMS += latencyMS
	if latencyMS > stats.LatencyMaxMS {
		stats.LatencyMaxMS = latencyMS
	}
	m.routeStats[key] = stats
}

func (m *InMemPipelineMetrics) RecordGate(routing string, latencyMS int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateStats[routing] = bumpStage(m.gateStats[routing], latencyMS, err)
}

func (m *InMemPipelineMetrics) RecordGeneration(mode string, latencyMS int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generationStats[mode] = bumpStage(m.generationStats[mode], latencyMS, err)
}

func (m *InMemPipelineMetrics) RecordRetrieval(latencyMS int64, resultCount int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retrieval.Count++
	if err != nil {
		m.retrieval.ErrorCount++
	}
	m.retrieval.LatencySumMS += latencyMS
	if latencyMS > m.retrieval.LatencyMaxMS {
		m.retrieval.LatencyMaxMS = latencyMS
	}
	m.retrieval.TotalResults += int64(resultCount)
}

func (m *InMemPipelineMetrics) RecordIngestDocument(key string, applied, failed int, latencyMS int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ingest.Documents++
	if err != nil {
		m.ingest.ErrorCount++
	}
	m.ingest.StatementsApplied += int64(applied)
	m.ingest.StatementsFailed += int64(failed)
	m.ingest.LatencySumMS += latencyMS
}

func (m *InMemPipelineMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := MetricsSnapshot{
		RouteStats:      make(map[string]RouteStats, len(m.routeStats)),
		GateStats:       make(map[string]StageStats, len(m.gateStats)),
		GenerationStats: make(map[string]StageStats, len(m.generationStats)),
		Retrieval:       m.retrieval,
		Ingest:          m.ingest,
		UptimeSeconds:   int64(time.Since(m.startTime).Seconds()),
		StartTime:       m.startTime,
	}
	for k, v := range m.routeStats {
		snapshot.RouteStats[k] = v
	}
	for k, v := range m.gateStats {
		snapshot.GateStats[k] = v
	}
	for k, v := range m.generationStats {
		snapshot.GenerationStats[k] = v
	}
	return snapshot
}

func bumpStage(stats StageStats, latencyMS int64, err error) StageStats {
	stats.Count++
	if err != nil {
		stats.ErrorCount++
	}
	stats.LatencySumMS += latencyMS
	if latencyMS > stats.LatencyMaxMS {
		stats.LatencyMaxMS = latencyMS
	}
	return stats
}
