package metrics

import (
	"time"
)

// Collector records operational metrics for the cache chain, the settlement
// path and the event queue. Implementations can export to Prometheus or keep
// counters in memory for tests.
type Collector interface {
	// Cache operations
	RecordGet(layer string, hit bool, duration time.Duration)
	RecordSet(layer string, success bool, duration time.Duration)
	RecordDelete(layer string, success bool, duration time.Duration)

	// Circuit breaker
	RecordCircuitState(layer string, state CircuitState)

	// Chain-level
	RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration)

	// Settlement. outcome is "settled", a rejection kind, or "error".
	RecordSettlement(action string, outcome string, duration time.Duration)

	// Event queue
	RecordQueueDepth(queue string, depth int)
	RecordEventDropped(queue string)
	RecordEventPublished(queue string, success bool, duration time.Duration)
}

// Settlement outcomes that are not rejection kinds.
const (
	OutcomeSettled = "settled"
	OutcomeError   = "error"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector discards everything. It is the default when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordGet(layer string, hit bool, duration time.Duration) {}
func (NoOpCollector) RecordSet(layer string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordDelete(layer string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordCircuitState(layer string, state CircuitState) {}
func (NoOpCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {}
func (NoOpCollector) RecordSettlement(action string, outcome string, duration time.Duration) {}
func (NoOpCollector) RecordQueueDepth(queue string, depth int) {}
func (NoOpCollector) RecordEventDropped(queue string) {}
func (NoOpCollector) RecordEventPublished(queue string, success bool, duration time.Duration) {}
