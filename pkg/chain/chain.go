package chain

import (
	"context"
	"errors"
	"strings"
	"time"

	"trade-ledger/pkg/cache"
	"trade-ledger/pkg/metrics"
	"trade-ledger/pkg/resilience"

	"golang.org/x/sync/singleflight"
)

// ChainConfig configures a Chain.
type ChainConfig struct {
	// Name is returned by Name. Default "chain".
	Name string

	// Metrics receives per-layer and chain-level metrics.
	Metrics metrics.Collector

	// Timeouts sets the per-layer operation timeout by position. Missing
	// entries default to 100ms for L1 and 1s for deeper layers.
	Timeouts []time.Duration

	// WarmTTL is used when a hit in a deeper layer is copied upward.
	// Default 5s, which keeps L1 quote snapshots close to the shared layer.
	WarmTTL time.Duration
}

// Chain manages cache layers ordered from fastest (L1) to slowest (LN),
// with fallback on misses and warm-up of upper layers on deep hits. A Chain
// is itself a cache.Layer.
type Chain struct {
	name    string
	layers  []*resilience.ResilientLayer
	metrics metrics.Collector
	warmTTL time.Duration
	sf      *singleflight.Group
}

// New creates a chain with default configuration.
func New(layers ...cache.Layer) (*Chain, error) {
	return NewWithConfig(ChainConfig{}, layers...)
}

// NewWithConfig creates a chain. Every layer is wrapped with resilience
// protection.
func NewWithConfig(config ChainConfig, layers ...cache.Layer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}
	if config.Name == "" {
		config.Name = "chain"
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.WarmTTL <= 0 {
		config.WarmTTL = 5 * time.Second
	}

	resilientLayers := make([]*resilience.ResilientLayer, len(layers))
	for i, layer := range layers {
		timeout := time.Second
		if i == 0 {
			timeout = 100 * time.Millisecond
		}
		if i < len(config.Timeouts) && config.Timeouts[i] > 0 {
			timeout = config.Timeouts[i]
		}

		rc := resilience.DefaultResilientConfig().WithTimeout(timeout)
		resilientLayers[i] = resilience.NewResilientLayerWithMetrics(layer, rc, config.Metrics)
	}

	return &Chain{
		name:    config.Name,
		layers:  resilientLayers,
		metrics: config.Metrics,
		warmTTL: config.WarmTTL,
		sf:      &singleflight.Group{},
	}, nil
}

// Name returns the configured chain name.
func (c *Chain) Name() string {
	return c.name
}

// Get walks the layers until a hit and warms the layers above it.
// Concurrent Gets for the same key share one traversal.
func (c *Chain) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return c.getWithFallback(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	// Shared results must not alias between callers.
	return append([]byte(nil), result.([]byte)...), nil
}

func (c *Chain) getWithFallback(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var lastErr error

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := layer.Get(ctx, key)
		if err != nil {
			// Misses and unhealthy layers both fall through to the next layer.
			lastErr = err
			continue
		}

		if i > 0 {
			c.warmUpperLayers(ctx, key, value, i)
		}

		c.metrics.RecordChainGet(true, i, time.Since(start))
		return value, nil
	}

	c.metrics.RecordChainGet(false, -1, time.Since(start))

	// The deepest layer's answer wins: a miss there is a miss, an outage
	// there is an outage even if L1 missed.
	if lastErr == nil {
		lastErr = cache.ErrKeyNotFound
	}
	return nil, lastErr
}

// warmUpperLayers copies a deep hit into every layer above it. Failures are
// ignored; the next Get retries.
func (c *Chain) warmUpperLayers(ctx context.Context, key string, value []byte, hitIndex int) {
	for i := hitIndex - 1; i >= 0; i-- {
		_ = c.layers[i].Set(ctx, key, value, c.warmTTL)
	}
}

// Set writes the value to all layers. Every layer is attempted; the last
// error is returned.
func (c *Chain) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var lastErr error

	for _, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := layer.Set(ctx, key, value, ttl); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Delete removes the key from all layers. Every layer is attempted; the
// last error is returned.
func (c *Chain) Delete(ctx context.Context, key string) error {
	var lastErr error

	for _, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := layer.Delete(ctx, key); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Close closes all layers, returning the last error encountered.
func (c *Chain) Close() error {
	var lastErr error

	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// States returns the circuit breaker state of each layer, by name.
func (c *Chain) States() map[string]metrics.CircuitState {
	states := make(map[string]metrics.CircuitState, len(c.layers))
	for _, layer := range c.layers {
		states[layer.Name()] = layer.State()
	}
	return states
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}

func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return c.name + "(" + strings.Join(names, " -> ") + ")"
}
