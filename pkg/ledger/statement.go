package ledger

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// SortOrder selects how a transaction history is ordered.
type SortOrder int

const (
	// Chronological lists oldest first, as statements do.
	Chronological SortOrder = iota
	// RecentFirst lists newest first, for recent-activity views.
	RecentFirst
)

func (o SortOrder) String() string {
	if o == RecentFirst {
		return "desc"
	}
	return "asc"
}

// ParseSortOrder maps "asc"/"desc" (and their long forms) to a SortOrder.
// Empty input yields def.
func ParseSortOrder(s string, def SortOrder) (SortOrder, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, true
	case "asc", "chronological", "oldest":
		return Chronological, true
	case "desc", "recent", "newest":
		return RecentFirst, true
	}
	return def, false
}

// SortTransactions returns a sorted copy of history. Ties on timestamp are
// broken by ID so the result is deterministic.
func SortTransactions(history []Transaction, order SortOrder) []Transaction {
	out := make([]Transaction, len(history))
	copy(out, history)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if order == RecentFirst {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.Timestamp.Before(b.Timestamp)
		}
		if order == RecentFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	return out
}

// Position is one held symbol valued at its latest price.
type Position struct {
	Symbol   string
	Name     string
	Quantity int64
	Price    decimal.Decimal
	Value    decimal.Decimal
	// Priced is false when the symbol had no quote; Value is then zero.
	Priced bool
}

// Valuation is an account's cash and holdings at current prices.
type Valuation struct {
	Balance        decimal.Decimal
	PortfolioValue decimal.Decimal
	TotalValue     decimal.Decimal
	Positions      []Position
}

// Value prices every held symbol. Each position is rounded to cents before
// summing. Positions are ordered by symbol.
func Value(acct Account, priceOf PriceFunc) Valuation {
	symbols := make([]string, 0, len(acct.Holdings))
	for symbol, qty := range acct.Holdings {
		if qty > 0 {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	portfolio := decimal.Zero
	positions := make([]Position, 0, len(symbols))
	for _, symbol := range symbols {
		pos := Position{Symbol: symbol, Quantity: acct.Holdings[symbol], Value: decimal.Zero}
		if price, ok := priceOf(symbol); ok {
			pos.Price = price
			pos.Value = RoundCurrency(price.Mul(decimal.NewFromInt(pos.Quantity)))
			pos.Priced = true
			portfolio = portfolio.Add(pos.Value)
		}
		positions = append(positions, pos)
	}

	return Valuation{
		Balance:        acct.Balance,
		PortfolioValue: portfolio,
		TotalValue:     RoundCurrency(acct.Balance.Add(portfolio)),
		Positions:      positions,
	}
}

// Statement summarizes an account and its history at current prices.
type Statement struct {
	UserID   string
	Username string
	Valuation
	Transactions []Transaction
}

// BuildStatement values acct and orders its history. It is pure: the same
// inputs always give the same statement.
func BuildStatement(acct Account, history []Transaction, priceOf PriceFunc, order SortOrder) Statement {
	return Statement{
		UserID:       acct.ID,
		Valuation:    Value(acct, priceOf),
		Transactions: SortTransactions(history, order),
	}
}
