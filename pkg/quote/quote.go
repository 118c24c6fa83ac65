package quote

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownSymbol is returned for symbols that are not listed or have no quote yet.
	ErrUnknownSymbol = errors.New("quote: unknown symbol")

	// ErrStaleQuote is returned when a snapshot is older than the one already published.
	ErrStaleQuote = errors.New("quote: stale snapshot")
)

// Quote is a price snapshot for one symbol. Seq increases with every
// snapshot of the same symbol.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Seq           uint64          `json:"seq"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Listing is a tradable symbol and its opening price.
type Listing struct {
	Symbol string
	Name   string
	Price  decimal.Decimal
}

// DefaultListings is the simulated market.
var DefaultListings = []Listing{
	{Symbol: "AAPL", Name: "Apple Inc.", Price: decimal.RequireFromString("175.45")},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Price: decimal.RequireFromString("378.85")},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Price: decimal.RequireFromString("141.80")},
	{Symbol: "AMZN", Name: "Amazon.com Inc.", Price: decimal.RequireFromString("145.20")},
	{Symbol: "TSLA", Name: "Tesla Inc.", Price: decimal.RequireFromString("248.50")},
	{Symbol: "META", Name: "Meta Platforms Inc.", Price: decimal.RequireFromString("325.30")},
	{Symbol: "NVDA", Name: "NVIDIA Corporation", Price: decimal.RequireFromString("475.60")},
	{Symbol: "NFLX", Name: "Netflix Inc.", Price: decimal.RequireFromString("445.25")},
}
