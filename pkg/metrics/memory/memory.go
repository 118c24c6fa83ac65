package memory

import (
	"sync"
	"time"

	"trade-ledger/pkg/metrics"
)

// MemoryCollector implements metrics.Collector in memory, for tests.
type MemoryCollector struct {
	mu sync.RWMutex

	layerMetrics map[string]*LayerMetrics

	chainHits        int64
	chainMisses      int64
	chainHitsByLayer map[int]int64

	// settlements[action][outcome]
	settlements map[string]map[string]int64

	queueMetrics map[string]*QueueMetrics
}

// LayerMetrics holds metrics for a single cache layer.
type LayerMetrics struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64

	CircuitState metrics.CircuitState
	CircuitOpens int64

	GetLatencies []time.Duration
}

// QueueMetrics holds metrics for one event queue.
type QueueMetrics struct {
	Depth         int
	Dropped       int64
	Published     int64
	PublishErrors int64
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		layerMetrics:     make(map[string]*LayerMetrics),
		chainHitsByLayer: make(map[int]int64),
		settlements:      make(map[string]map[string]int64),
		queueMetrics:     make(map[string]*QueueMetrics),
	}
}

// layer returns the LayerMetrics for name, creating it if needed. Caller holds mu.
func (mc *MemoryCollector) layer(name string) *LayerMetrics {
	lm, ok := mc.layerMetrics[name]
	if !ok {
		lm = &LayerMetrics{}
		mc.layerMetrics[name] = lm
	}
	return lm
}

// queue returns the QueueMetrics for name, creating it if needed. Caller holds mu.
func (mc *MemoryCollector) queue(name string) *QueueMetrics {
	qm, ok := mc.queueMetrics[name]
	if !ok {
		qm = &QueueMetrics{}
		mc.queueMetrics[name] = qm
	}
	return qm
}

func (mc *MemoryCollector) RecordGet(layer string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if hit {
		lm.Hits++
	} else {
		lm.Misses++
	}
	lm.GetLatencies = append(lm.GetLatencies, duration)
}

func (mc *MemoryCollector) RecordSet(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Sets++
	if !success {
		lm.Errors++
	}
}

func (mc *MemoryCollector) RecordDelete(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Deletes++
	if !success {
		lm.Errors++
	}
}

// RecordCircuitState stores the state and counts transitions to open.
func (mc *MemoryCollector) RecordCircuitState(layer string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if lm.CircuitState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		lm.CircuitOpens++
	}
	lm.CircuitState = state
}

func (mc *MemoryCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if hit {
		mc.chainHits++
		mc.chainHitsByLayer[layerIndex]++
	} else {
		mc.chainMisses++
	}
}

func (mc *MemoryCollector) RecordSettlement(action string, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	byOutcome, ok := mc.settlements[action]
	if !ok {
		byOutcome = make(map[string]int64)
		mc.settlements[action] = byOutcome
	}
	byOutcome[outcome]++
}

func (mc *MemoryCollector) RecordQueueDepth(queue string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.queue(queue).Depth = depth
}

func (mc *MemoryCollector) RecordEventDropped(queue string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.queue(queue).Dropped++
}

func (mc *MemoryCollector) RecordEventPublished(queue string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	qm := mc.queue(queue)
	if success {
		qm.Published++
	} else {
		qm.PublishErrors++
	}
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	LayerMetrics     map[string]LayerMetrics
	ChainHits        int64
	ChainMisses      int64
	ChainHitsByLayer map[int]int64
	Settlements      map[string]map[string]int64
	QueueMetrics     map[string]QueueMetrics
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		LayerMetrics:     make(map[string]LayerMetrics, len(mc.layerMetrics)),
		ChainHits:        mc.chainHits,
		ChainMisses:      mc.chainMisses,
		ChainHitsByLayer: make(map[int]int64, len(mc.chainHitsByLayer)),
		Settlements:      make(map[string]map[string]int64, len(mc.settlements)),
		QueueMetrics:     make(map[string]QueueMetrics, len(mc.queueMetrics)),
	}

	for name, lm := range mc.layerMetrics {
		cp := *lm
		cp.GetLatencies = append([]time.Duration(nil), lm.GetLatencies...)
		snapshot.LayerMetrics[name] = cp
	}
	for idx, hits := range mc.chainHitsByLayer {
		snapshot.ChainHitsByLayer[idx] = hits
	}
	for action, byOutcome := range mc.settlements {
		cp := make(map[string]int64, len(byOutcome))
		for outcome, n := range byOutcome {
			cp[outcome] = n
		}
		snapshot.Settlements[action] = cp
	}
	for name, qm := range mc.queueMetrics {
		snapshot.QueueMetrics[name] = *qm
	}

	return snapshot
}

// Settlements returns the count for one action and outcome.
func (mc *MemoryCollector) Settlements(action, outcome string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return mc.settlements[action][outcome]
}

// GetLayerMetrics returns a copy of the metrics for a layer, or nil.
func (mc *MemoryCollector) GetLayerMetrics(layer string) *LayerMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if lm, ok := mc.layerMetrics[layer]; ok {
		cp := *lm
		return &cp
	}
	return nil
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layerMetrics = make(map[string]*LayerMetrics)
	mc.chainHits = 0
	mc.chainMisses = 0
	mc.chainHitsByLayer = make(map[int]int64)
	mc.settlements = make(map[string]map[string]int64)
	mc.queueMetrics = make(map[string]*QueueMetrics)
}
