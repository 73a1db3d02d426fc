package monitor

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/glimte/canvasbridge/bridge"
)

const maxSamples = 100

// BridgeMetrics is an in-memory bridge.Observer
type BridgeMetrics struct {
	mu sync.RWMutex

	sent     map[string]int64
	outcomes map[string]map[string]int64
	latency  map[string]*timeStats
	dropped  map[string]int64
	started  time.Time
}

var _ bridge.Observer = (*BridgeMetrics)(nil)

// timeStats tracks latency for one command type
type timeStats struct {
	count   int64
	totalMs int64
	minMs   int64
	maxMs   int64
	samples []int64 // last maxSamples, oldest first
}

// NewBridgeMetrics creates an empty collector
func NewBridgeMetrics() *BridgeMetrics {
	m := &BridgeMetrics{}
	m.reset()
	return m
}

// CommandSent implements bridge.Observer
func (m *BridgeMetrics) CommandSent(commandType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[commandType]++
}

// CommandSettled implements bridge.Observer
func (m *BridgeMetrics) CommandSettled(commandType, outcome string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outcomes[commandType] == nil {
		m.outcomes[commandType] = make(map[string]int64)
	}
	m.outcomes[commandType][outcome]++

	ms := latency.Milliseconds()
	stats, ok := m.latency[commandType]
	if !ok {
		stats = &timeStats{minMs: ms, maxMs: ms, samples: make([]int64, 0, maxSamples)}
		m.latency[commandType] = stats
	}
	stats.count++
	stats.totalMs += ms
	if ms < stats.minMs {
		stats.minMs = ms
	}
	if ms > stats.maxMs {
		stats.maxMs = ms
	}
	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, ms)
}

// FrameDropped implements bridge.Observer
func (m *BridgeMetrics) FrameDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

// Summary is a snapshot of the collected metrics
type Summary struct {
	Since         time.Time                   `json:"since"`
	Sent          map[string]int64            `json:"sent"`
	Outcomes      map[string]map[string]int64 `json:"outcomes"`
	Latency       map[string]LatencyStats     `json:"latency"`
	DroppedFrames map[string]int64            `json:"dropped_frames"`
}

// LatencyStats summarises settle latency for a command type. Percentiles
// cover the most recent samples only.
type LatencyStats struct {
	Count int64 `json:"count"`
	AvgMs int64 `json:"avg_ms"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	P50Ms int64 `json:"p50_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}

// Total returns how many commands of any type settled with outcome
func (s Summary) Total(outcome string) int64 {
	var n int64
	for _, byOutcome := range s.Outcomes {
		n += byOutcome[outcome]
	}
	return n
}

// Summary returns a copy of the current metrics
func (m *BridgeMetrics) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := Summary{
		Since:         m.started,
		Sent:          make(map[string]int64, len(m.sent)),
		Outcomes:      make(map[string]map[string]int64, len(m.outcomes)),
		Latency:       make(map[string]LatencyStats, len(m.latency)),
		DroppedFrames: make(map[string]int64, len(m.dropped)),
	}

	for t, n := range m.sent {
		summary.Sent[t] = n
	}
	for t, byOutcome := range m.outcomes {
		summary.Outcomes[t] = make(map[string]int64, len(byOutcome))
		for outcome, n := range byOutcome {
			summary.Outcomes[t][outcome] = n
		}
	}
	for reason, n := range m.dropped {
		summary.DroppedFrames[reason] = n
	}

	for t, stats := range m.latency {
		ls := LatencyStats{Count: stats.count, MinMs: stats.minMs, MaxMs: stats.maxMs}
		if stats.count > 0 {
			ls.AvgMs = stats.totalMs / stats.count
		}
		if len(stats.samples) > 0 {
			sorted := make([]int64, len(stats.samples))
			copy(sorted, stats.samples)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			ls.P50Ms = percentile(sorted, 0.50)
			ls.P95Ms = percentile(sorted, 0.95)
			ls.P99Ms = percentile(sorted, 0.99)
		}
		summary.Latency[t] = ls
	}

	return summary
}

func percentile(sorted []int64, p float64) int64 {
	return sorted[int(float64(len(sorted)-1)*p)]
}

// Reset clears all collected metrics
func (m *BridgeMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *BridgeMetrics) reset() {
	m.sent = make(map[string]int64)
	m.outcomes = make(map[string]map[string]int64)
	m.latency = make(map[string]*timeStats)
	m.dropped = make(map[string]int64)
	m.started = time.Now()
}

// Handler serves the summary as JSON
func (m *BridgeMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(m.Summary())
	})
}
