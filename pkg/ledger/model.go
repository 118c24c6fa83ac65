package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the side of an order.
type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

// Valid reports whether a is buy or sell.
func (a Action) Valid() bool {
	return a == Buy || a == Sell
}

// Account is one user's cash balance and share holdings.
type Account struct {
	ID        string
	Balance   decimal.Decimal
	Holdings  map[string]int64
	CreatedAt time.Time
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	holdings := make(map[string]int64, len(a.Holdings))
	for symbol, qty := range a.Holdings {
		holdings[symbol] = qty
	}
	a.Holdings = holdings
	return a
}

// Order is a requested buy or sell.
type Order struct {
	Action   Action
	Symbol   string
	Quantity int64
}

// Transaction is the immutable record of one settled order.
type Transaction struct {
	ID        int64
	UserID    string
	Action    Action
	Symbol    string
	Quantity  int64
	Price     decimal.Decimal
	Total     decimal.Decimal
	Timestamp time.Time
}

// Principal is the authenticated caller on whose account a call acts.
type Principal struct {
	UserID   string
	Username string
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
