package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"trade-ledger/pkg/cache"
	"trade-ledger/pkg/cache/bloom"
	"trade-ledger/pkg/logging"

	"go.uber.org/zap"
)

var quoteKeys = cache.NewKeyPattern("quote", ":")

// Key returns the cache key holding the latest snapshot for symbol.
func Key(symbol string) string {
	return quoteKeys.Build(symbol)
}

// Book holds the latest snapshot per listed symbol in a cache layer.
// Snapshots are JSON encoded so several processes can share them through
// Redis. Reads take no locks beyond the layer's own.
type Book struct {
	layer    cache.Layer
	ttl      time.Duration
	logger   *logging.Logger
	listings map[string]Listing
	symbols  []string

	mu   sync.Mutex
	last map[string]Quote
}

// BookConfig configures a Book.
type BookConfig struct {
	Listings []Listing
	// TTL for each snapshot; zero uses the layer default.
	TTL    time.Duration
	Logger *logging.Logger
}

// NewBook creates a book over layer. If layer is a bloom filter it is
// seeded with every listed symbol.
func NewBook(layer cache.Layer, config BookConfig) *Book {
	if config.Listings == nil {
		config.Listings = DefaultListings
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}

	b := &Book{
		layer:    layer,
		ttl:      config.TTL,
		logger:   config.Logger.Named("quotes"),
		listings: make(map[string]Listing, len(config.Listings)),
		last:     make(map[string]Quote),
	}

	for _, l := range config.Listings {
		l.Symbol = strings.ToUpper(l.Symbol)
		b.listings[l.Symbol] = l
		b.symbols = append(b.symbols, l.Symbol)
	}
	sort.Strings(b.symbols)

	if bl, ok := layer.(*bloom.BloomLayer); ok {
		keys := make([]string, len(b.symbols))
		for i, s := range b.symbols {
			keys[i] = Key(s)
		}
		bl.Seed(keys...)
	}

	return b
}

// Listings returns the listed symbols in symbol order.
func (b *Book) Listings() []Listing {
	out := make([]Listing, len(b.symbols))
	for i, s := range b.symbols {
		out[i] = b.listings[s]
	}
	return out
}

// Listed reports whether symbol is tradable.
func (b *Book) Listed(symbol string) bool {
	_, ok := b.listings[strings.ToUpper(symbol)]
	return ok
}

// Publish stores q as the latest snapshot for its symbol. Snapshots with a
// Seq not greater than the last published one are refused with ErrStaleQuote.
func (b *Book) Publish(ctx context.Context, q Quote) error {
	q.Symbol = strings.ToUpper(q.Symbol)
	listing, ok := b.listings[q.Symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, q.Symbol)
	}
	if q.Name == "" {
		q.Name = listing.Name
	}

	value, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("quote: encode %s: %w", q.Symbol, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if last, seen := b.last[q.Symbol]; seen && q.Seq <= last.Seq {
		return fmt.Errorf("%w: %s seq %d <= %d", ErrStaleQuote, q.Symbol, q.Seq, last.Seq)
	}

	if err := b.layer.Set(ctx, Key(q.Symbol), value, b.ttl); err != nil {
		return cache.WrapError(err, b.layer.Name(), "set")
	}
	b.last[q.Symbol] = q

	return nil
}

// Last returns the newest snapshot this book has published or observed for
// symbol, even after it has expired from the layer. A feed resumes from it so
// sequence numbers keep increasing.
func (b *Book) Last(symbol string) (Quote, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.last[strings.ToUpper(strings.TrimSpace(symbol))]
	return q, ok
}

// Latest returns the most recent snapshot for symbol, or ErrUnknownSymbol.
func (b *Book) Latest(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !b.Listed(symbol) {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	value, err := b.layer.Get(ctx, Key(symbol))
	if cache.IsNotFound(err) {
		return Quote{}, fmt.Errorf("%w: %s has no quote yet", ErrUnknownSymbol, symbol)
	}
	if err != nil {
		return Quote{}, cache.WrapError(err, b.layer.Name(), "get")
	}

	var q Quote
	if err := json.Unmarshal(value, &q); err != nil {
		return Quote{}, fmt.Errorf("quote: decode %s: %w", symbol, err)
	}
	return q, nil
}

// List returns the latest snapshot of every listed symbol that has one.
func (b *Book) List(ctx context.Context) ([]Quote, error) {
	quotes := make([]Quote, 0, len(b.symbols))
	for _, symbol := range b.symbols {
		q, err := b.Latest(ctx, symbol)
		if err != nil {
			if isUnknown(err) {
				continue
			}
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// Seed publishes each listing's opening price unless a snapshot already
// exists, e.g. one written by another process into the shared layer.
func (b *Book) Seed(ctx context.Context, at time.Time) error {
	for _, symbol := range b.symbols {
		existing, err := b.Latest(ctx, symbol)
		if err == nil {
			b.mu.Lock()
			if existing.Seq > b.last[symbol].Seq {
				b.last[symbol] = existing
			}
			b.mu.Unlock()
			continue
		}
		if !isUnknown(err) {
			return err
		}

		l := b.listings[symbol]
		if err := b.Publish(ctx, Quote{Symbol: symbol, Name: l.Name, Price: l.Price, Seq: 1, UpdatedAt: at}); err != nil {
			return err
		}
	}

	b.logger.Info("quote book seeded", zap.Int("symbols", len(b.symbols)))
	return nil
}

func isUnknown(err error) bool {
	return errors.Is(err, ErrUnknownSymbol)
}
