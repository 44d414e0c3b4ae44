package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall system performance. All methods are safe on a nil receiver.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	SettleLatency *LatencyHistogram
	OracleLatency *LatencyHistogram
	HTTPLatency   *LatencyHistogram

	// Counters
	tradesOpened     uint64
	tradesSettled    uint64
	settleErrors     uint64
	malformedRecords uint64
	sweeps           uint64
	oracleFetches    uint64
	oracleFailures   uint64
	staleServes      uint64
	httpRequests     uint64
	httpErrors       uint64

	// Gauges
	wsClients         int64
	lockAcquisitions  func() uint64
	lastSweepDuration time.Duration

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		SettleLatency: NewLatencyHistogram(1000),
		OracleLatency: NewLatencyHistogram(1000),
		HTTPLatency:   NewLatencyHistogram(1000),
		lastUpdate:    time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	if h == nil {
		return LatencyStats{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementTradesOpened() {
	if m != nil {
		atomic.AddUint64(&m.tradesOpened, 1)
	}
}

func (m *SystemMetrics) IncrementTradesSettled() {
	if m != nil {
		atomic.AddUint64(&m.tradesSettled, 1)
	}
}

func (m *SystemMetrics) IncrementSettleErrors() {
	if m != nil {
		atomic.AddUint64(&m.settleErrors, 1)
	}
}

func (m *SystemMetrics) IncrementMalformed() {
	if m != nil {
		atomic.AddUint64(&m.malformedRecords, 1)
	}
}

// ObserveHTTP records one served request; 5xx responses count as errors.
func (m *SystemMetrics) ObserveHTTP(d time.Duration, status int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.httpRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&m.httpErrors, 1)
	}
	m.HTTPLatency.RecordDuration(d)
}

// ObserveOracleFetch records one upstream fetch attempt.
func (m *SystemMetrics) ObserveOracleFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.oracleFetches, 1)
	if err != nil {
		atomic.AddUint64(&m.oracleFailures, 1)
	}
	m.OracleLatency.RecordDuration(d)
}

// IncrementStaleServes counts responses served from an expired snapshot.
func (m *SystemMetrics) IncrementStaleServes() {
	if m != nil {
		atomic.AddUint64(&m.staleServes, 1)
	}
}

// ObserveSweep records a completed settlement sweep.
func (m *SystemMetrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sweeps, 1)
	m.mu.Lock()
	m.lastSweepDuration = d
	m.lastUpdate = time.Now()
	m.mu.Unlock()
}

// AddWSClients adjusts the connected websocket client gauge.
func (m *SystemMetrics) AddWSClients(delta int64) {
	if m != nil {
		atomic.AddInt64(&m.wsClients, delta)
	}
}

// SetLockStatsSource registers a reader for ledger lock acquisitions.
func (m *SystemMetrics) SetLockStatsSource(fn func() uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockAcquisitions = fn
}

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	SettleLatency      LatencyStats `json:"settle_latency"`
	OracleLatency      LatencyStats `json:"oracle_latency"`
	HTTPLatency        LatencyStats `json:"http_latency"`
	TradesOpened       uint64       `json:"trades_opened"`
	TradesSettled      uint64       `json:"trades_settled"`
	SettleErrors       uint64       `json:"settle_errors"`
	MalformedRecords   uint64       `json:"malformed_records"`
	Sweeps             uint64       `json:"sweeps"`
	LastSweepMs        float64      `json:"last_sweep_ms"`
	OracleFetches      uint64       `json:"oracle_fetches"`
	OracleFailures     uint64       `json:"oracle_failures"`
	StaleServes        uint64       `json:"stale_serves"`
	HTTPRequests       uint64       `json:"http_requests"`
	HTTPErrors         uint64       `json:"http_errors"`
	WSClients          int64        `json:"ws_clients"`
	LedgerLockAcquires uint64       `json:"ledger_lock_acquisitions"`
	GoroutineCount     int          `json:"goroutine_count"`
	HeapAlloc          uint64       `json:"heap_alloc_bytes"`
	HeapSys            uint64       `json:"heap_sys_bytes"`
	Timestamp          time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	lastSweep := m.lastSweepDuration
	lockFn := m.lockAcquisitions
	m.mu.RUnlock()

	var locks uint64
	if lockFn != nil {
		locks = lockFn()
	}

	return MetricsSnapshot{
		SettleLatency:      m.SettleLatency.Stats(),
		OracleLatency:      m.OracleLatency.Stats(),
		HTTPLatency:        m.HTTPLatency.Stats(),
		TradesOpened:       atomic.LoadUint64(&m.tradesOpened),
		TradesSettled:      atomic.LoadUint64(&m.tradesSettled),
		SettleErrors:       atomic.LoadUint64(&m.settleErrors),
		MalformedRecords:   atomic.LoadUint64(&m.malformedRecords),
		Sweeps:             atomic.LoadUint64(&m.sweeps),
		LastSweepMs:        float64(lastSweep.Nanoseconds()) / 1e6,
		OracleFetches:      atomic.LoadUint64(&m.oracleFetches),
		OracleFailures:     atomic.LoadUint64(&m.oracleFailures),
		StaleServes:        atomic.LoadUint64(&m.staleServes),
		HTTPRequests:       atomic.LoadUint64(&m.httpRequests),
		HTTPErrors:         atomic.LoadUint64(&m.httpErrors),
		WSClients:          atomic.LoadInt64(&m.wsClients),
		LedgerLockAcquires: locks,
		GoroutineCount:     runtime.NumGoroutine(),
		HeapAlloc:          memStats.HeapAlloc,
		HeapSys:            memStats.HeapSys,
		Timestamp:          time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// SettleTimer starts a timer on the settlement histogram.
func (m *SystemMetrics) SettleTimer() *Timer {
	if m == nil {
		return NewTimer(nil)
	}
	return NewTimer(m.SettleLatency)
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
