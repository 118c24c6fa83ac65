package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"trade-ledger/pkg/cache"
	"trade-ledger/pkg/cache/bloom"
	"trade-ledger/pkg/cache/memory"
	"trade-ledger/pkg/cache/mock"

	"github.com/shopspring/decimal"
)

func newTestBook(t *testing.T) (*Book, *memory.MemoryCache) {
	t.Helper()
	layer := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "quotes"})
	t.Cleanup(func() { layer.Close() })
	return NewBook(layer, BookConfig{}), layer
}

func TestKey(t *testing.T) {
	if got := Key("AAPL"); got != "quote:AAPL" {
		t.Errorf("Expected quote:AAPL, got %s", got)
	}
}

func TestBook_Listings(t *testing.T) {
	b, _ := newTestBook(t)

	listings := b.Listings()
	if len(listings) != len(DefaultListings) {
		t.Fatalf("Expected %d listings, got %d", len(DefaultListings), len(listings))
	}
	for i := 1; i < len(listings); i++ {
		if listings[i-1].Symbol > listings[i].Symbol {
			t.Errorf("Listings not sorted: %s before %s", listings[i-1].Symbol, listings[i].Symbol)
		}
	}
	if !b.Listed("nvda") || b.Listed("ZZZZ") {
		t.Error("Listed gave the wrong answer")
	}
}

func TestBook_SeedAndLatest(t *testing.T) {
	b, _ := newTestBook(t)
	ctx := context.Background()

	if _, err := b.Latest(ctx, "AAPL"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("Expected ErrUnknownSymbol before seeding, got %v", err)
	}

	opened := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := b.Seed(ctx, opened); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	q, err := b.Latest(ctx, " aapl ")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if !q.Price.Equal(decimal.RequireFromString("175.45")) || q.Name != "Apple Inc." || q.Seq != 1 {
		t.Errorf("Unexpected opening quote %+v", q)
	}
	if !q.UpdatedAt.Equal(opened) {
		t.Errorf("Expected UpdatedAt %v, got %v", opened, q.UpdatedAt)
	}

	if _, err := b.Latest(ctx, "ZZZZ"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("Expected ErrUnknownSymbol, got %v", err)
	}

	all, err := b.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(DefaultListings) {
		t.Errorf("Expected every symbol quoted, got %d", len(all))
	}
}

func TestBook_SeedKeepsExistingSnapshots(t *testing.T) {
	b, layer := newTestBook(t)
	ctx := context.Background()

	if err := b.Publish(ctx, Quote{Symbol: "MSFT", Price: decimal.RequireFromString("380.00"), Seq: 7}); err != nil {
		t.Fatal(err)
	}

	// A second process sharing the layer must not reset the price.
	other := NewBook(layer, BookConfig{})
	if err := other.Seed(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}

	q, _ := other.Latest(ctx, "MSFT")
	if q.Seq != 7 || !q.Price.Equal(decimal.RequireFromString("380")) {
		t.Errorf("Seed overwrote an existing snapshot: %+v", q)
	}
	if err := other.Publish(ctx, Quote{Symbol: "MSFT", Price: decimal.RequireFromString("1"), Seq: 7}); !errors.Is(err, ErrStaleQuote) {
		t.Errorf("Expected the seeded book to know seq 7, got %v", err)
	}
}

func TestBook_Publish(t *testing.T) {
	b, _ := newTestBook(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		q       Quote
		wantErr error
	}{
		{"first snapshot", Quote{Symbol: "tsla", Price: decimal.RequireFromString("248.50"), Seq: 1}, nil},
		{"newer snapshot", Quote{Symbol: "TSLA", Price: decimal.RequireFromString("250.10"), Seq: 2}, nil},
		{"replayed snapshot", Quote{Symbol: "TSLA", Price: decimal.RequireFromString("1.00"), Seq: 2}, ErrStaleQuote},
		{"older snapshot", Quote{Symbol: "TSLA", Price: decimal.RequireFromString("1.00"), Seq: 1}, ErrStaleQuote},
		{"unlisted symbol", Quote{Symbol: "ZZZZ", Price: decimal.RequireFromString("1.00"), Seq: 1}, ErrUnknownSymbol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Publish(ctx, tt.q)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	q, _ := b.Latest(ctx, "TSLA")
	if q.Seq != 2 || !q.Price.Equal(decimal.RequireFromString("250.10")) || q.Name != "Tesla Inc." {
		t.Errorf("Expected seq 2 snapshot with listing name, got %+v", q)
	}
}

func TestBook_LastOutlivesLayer(t *testing.T) {
	b, layer := newTestBook(t)
	ctx := context.Background()

	if _, ok := b.Last("MSFT"); ok {
		t.Fatal("Expected no snapshot before the first publish")
	}

	if err := b.Publish(ctx, Quote{Symbol: "MSFT", Price: decimal.RequireFromString("378.85"), Seq: 5}); err != nil {
		t.Fatal(err)
	}
	if err := layer.Delete(ctx, Key("MSFT")); err != nil {
		t.Fatal(err)
	}

	last, ok := b.Last("msft")
	if !ok || last.Seq != 5 || !last.Price.Equal(decimal.RequireFromString("378.85")) {
		t.Fatalf("Expected the seq 5 snapshot to be remembered, got %+v, %v", last, ok)
	}
	if err := b.Publish(ctx, Quote{Symbol: "MSFT", Price: decimal.RequireFromString("1.00"), Seq: 1}); !errors.Is(err, ErrStaleQuote) {
		t.Errorf("Expected a restart from seq 1 to be stale, got %v", err)
	}
	if err := b.Publish(ctx, Quote{Symbol: "MSFT", Price: decimal.RequireFromString("379.00"), Seq: last.Seq + 1}); err != nil {
		t.Errorf("Expected the next seq to be accepted, got %v", err)
	}
}

func TestBook_LayerFailure(t *testing.T) {
	down := mock.NewMockLayer("redis")
	down.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		return nil, cache.ErrLayerUnavailable
	}
	b := NewBook(down, BookConfig{})

	_, err := b.Latest(context.Background(), "AAPL")
	if errors.Is(err, ErrUnknownSymbol) {
		t.Fatal("An unavailable layer must not look like an unknown symbol")
	}
	if !cache.IsUnavailable(err) {
		t.Errorf("Expected unavailable error, got %v", err)
	}
}

func TestBook_BloomFastPath(t *testing.T) {
	inner := mock.NewMapLayer("quotes")
	bl := bloom.NewBloomLayer(inner, 100, 0.01)
	b := NewBook(bl, BookConfig{})
	ctx := context.Background()

	for _, l := range DefaultListings {
		if !bl.MayContain(Key(l.Symbol)) {
			t.Errorf("Expected %s seeded into the filter", l.Symbol)
		}
	}

	if err := b.Seed(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Latest(ctx, "NFLX"); err != nil {
		t.Errorf("Latest through bloom layer failed: %v", err)
	}

	if _, err := bl.Get(ctx, Key("ZZZZ")); !cache.IsNotFound(err) {
		t.Errorf("Expected unseen key rejected, got %v", err)
	}
	if bl.Stats().BloomRejected != 1 {
		t.Errorf("Expected one bloom rejection, got %d", bl.Stats().BloomRejected)
	}
}
