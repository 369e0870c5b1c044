package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	rejections    map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	faults        map[string]map[string]int64
	breakerStates map[string]string
	healthStatus  map[string]map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	TotalFaults   int64                     `json:"total_faults"`
	Uptime        time.Duration             `json:"uptime"`
	Backends      map[string]BackendMetrics `json:"backends"`
}

type BackendMetrics struct {
	Requests     int64            `json:"requests"`
	Rejections   int64            `json:"rejections"`
	BreakerState string           `json:"breaker_state,omitempty"`
	Instances    map[string]bool  `json:"instances,omitempty"`
	AvgResponse  time.Duration    `json:"avg_response"`
	P50Response  time.Duration    `json:"p50_response"`
	P95Response  time.Duration    `json:"p95_response"`
	P99Response  time.Duration    `json:"p99_response"`
	StatusCodes  map[int]int64    `json:"status_codes,omitempty"`
	Faults       map[string]int64 `json:"faults,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		rejections:    make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		faults:        make(map[string]map[string]int64),
		breakerStates: make(map[string]string),
		healthStatus:  make(map[string]map[string]bool),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementRequests(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[backend]++
}

func (m *Metrics) IncrementRejections(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejections[backend]++
}

func (m *Metrics) RecordResponse(backend string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[backend] = append(m.responseTimes[backend], duration)
	if len(m.responseTimes[backend]) > maxSamples {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}

	if m.statusCodes[backend] == nil {
		m.statusCodes[backend] = make(map[int]int64)
	}
	m.statusCodes[backend][statusCode]++
}

func (m *Metrics) RecordFault(backend, kind string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.faults[backend] == nil {
		m.faults[backend] = make(map[string]int64)
	}
	m.faults[backend][kind]++
}

func (m *Metrics) RecordBreakerState(backend, state string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.breakerStates[backend] = state
}

func (m *Metrics) UpdateHealthStatus(backend, instance string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.healthStatus[backend] == nil {
		m.healthStatus[backend] = make(map[string]bool)
	}
	m.healthStatus[backend][instance] = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Backends: make(map[string]BackendMetrics),
	}

	names := make(map[string]struct{})
	for name := range m.requests {
		names[name] = struct{}{}
	}
	for name := range m.rejections {
		names[name] = struct{}{}
	}
	for name := range m.faults {
		names[name] = struct{}{}
	}
	for name := range m.breakerStates {
		names[name] = struct{}{}
	}
	for name := range m.healthStatus {
		names[name] = struct{}{}
	}
	for name := range m.responseTimes {
		names[name] = struct{}{}
	}
	for name := range m.statusCodes {
		names[name] = struct{}{}
	}

	for name := range names {
		snap.TotalRequests += m.requests[name]

		bm := BackendMetrics{
			Requests:     m.requests[name],
			Rejections:   m.rejections[name],
			BreakerState: m.breakerStates[name],
			StatusCodes:  copyMap(m.statusCodes[name]),
			Faults:       copyMap(m.faults[name]),
			Instances:    copyMap(m.healthStatus[name]),
		}
		for _, n := range bm.Faults {
			snap.TotalFaults += n
		}

		if durations := m.responseTimes[name]; len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[name] = bm
	}

	return snap
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	if in == nil {
		return nil
	}
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
