package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var at = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func prices(kv ...string) PriceFunc {
	m := make(map[string]decimal.Decimal, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = d(kv[i+1])
	}
	return func(symbol string) (decimal.Decimal, bool) {
		p, ok := m[symbol]
		return p, ok
	}
}

func account(balance string, holdings map[string]int64) Account {
	if holdings == nil {
		holdings = map[string]int64{}
	}
	return Account{ID: "u-1", Balance: d(balance), Holdings: holdings}
}

func TestSettle_Scenarios(t *testing.T) {
	tests := []struct {
		name         string
		acct         Account
		order        Order
		priceOf      PriceFunc
		wantErr      error
		wantBalance  string
		wantHoldings map[string]int64
		wantTotal    string
	}{
		{
			name:         "buy 10 AAPL",
			acct:         account("10000.00", nil),
			order:        Order{Action: Buy, Symbol: "AAPL", Quantity: 10},
			priceOf:      prices("AAPL", "175.45"),
			wantBalance:  "8245.50",
			wantHoldings: map[string]int64{"AAPL": 10},
			wantTotal:    "1754.50",
		},
		{
			name:         "sell 5 AAPL",
			acct:         account("8245.50", map[string]int64{"AAPL": 10}),
			order:        Order{Action: Sell, Symbol: "AAPL", Quantity: 5},
			priceOf:      prices("AAPL", "175.45"),
			wantBalance:  "9122.75",
			wantHoldings: map[string]int64{"AAPL": 5},
			wantTotal:    "877.25",
		},
		{
			name:    "buy beyond balance",
			acct:    account("100.00", nil),
			order:   Order{Action: Buy, Symbol: "XYZ", Quantity: 5},
			priceOf: prices("XYZ", "100.00"),
			wantErr: ErrInsufficientFunds,
		},
		{
			name:    "sell without holdings",
			acct:    account("10000.00", nil),
			order:   Order{Action: Sell, Symbol: "MSFT", Quantity: 1},
			priceOf: prices("MSFT", "378.85"),
			wantErr: ErrInsufficientHoldings,
		},
		{
			name:    "negative quantity",
			acct:    account("10000.00", nil),
			order:   Order{Action: Buy, Symbol: "AAPL", Quantity: -3},
			priceOf: prices("AAPL", "175.45"),
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "zero quantity",
			acct:    account("10000.00", nil),
			order:   Order{Action: Sell, Symbol: "AAPL", Quantity: 0},
			priceOf: prices("AAPL", "175.45"),
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "unknown symbol",
			acct:    account("10000.00", nil),
			order:   Order{Action: Buy, Symbol: "ZZZZ", Quantity: 1},
			priceOf: prices("AAPL", "175.45"),
			wantErr: ErrUnknownSymbol,
		},
		{
			name:    "non-positive price",
			acct:    account("10000.00", nil),
			order:   Order{Action: Buy, Symbol: "AAPL", Quantity: 1},
			priceOf: prices("AAPL", "0"),
			wantErr: ErrUnknownSymbol,
		},
		{
			name:    "invalid action",
			acct:    account("10000.00", nil),
			order:   Order{Action: "short", Symbol: "AAPL", Quantity: 1},
			priceOf: prices("AAPL", "175.45"),
			wantErr: ErrInvalidAction,
		},
		{
			name:         "buy exactly the balance",
			acct:         account("175.45", nil),
			order:        Order{Action: Buy, Symbol: "AAPL", Quantity: 1},
			priceOf:      prices("AAPL", "175.45"),
			wantBalance:  "0.00",
			wantHoldings: map[string]int64{"AAPL": 1},
			wantTotal:    "175.45",
		},
		{
			name:         "sell everything removes the entry",
			acct:         account("0.00", map[string]int64{"AAPL": 3, "MSFT": 1}),
			order:        Order{Action: Sell, Symbol: "aapl", Quantity: 3},
			priceOf:      prices("AAPL", "175.45"),
			wantBalance:  "526.35",
			wantHoldings: map[string]int64{"MSFT": 1},
			wantTotal:    "526.35",
		},
		{
			name:         "total rounds half away from zero",
			acct:         account("100.00", nil),
			order:        Order{Action: Buy, Symbol: "PENNY", Quantity: 3},
			priceOf:      prices("PENNY", "0.335"),
			wantBalance:  "98.99",
			wantHoldings: map[string]int64{"PENNY": 3},
			wantTotal:    "1.01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.acct.Clone()

			next, tx, err := Settle(tt.acct, tt.order, tt.priceOf, at)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				if !next.Balance.Equal(before.Balance) || len(next.Holdings) != len(before.Holdings) {
					t.Errorf("Rejected order changed the account: %+v", next)
				}
				if tx != (Transaction{}) {
					t.Errorf("Rejected order produced a transaction: %+v", tx)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if !next.Balance.Equal(d(tt.wantBalance)) {
				t.Errorf("Expected balance %s, got %s", tt.wantBalance, next.Balance)
			}
			if len(next.Holdings) != len(tt.wantHoldings) {
				t.Errorf("Expected holdings %v, got %v", tt.wantHoldings, next.Holdings)
			}
			for symbol, qty := range tt.wantHoldings {
				if next.Holdings[symbol] != qty {
					t.Errorf("Expected %d %s, got %d", qty, symbol, next.Holdings[symbol])
				}
			}
			if !tx.Total.Equal(d(tt.wantTotal)) {
				t.Errorf("Expected total %s, got %s", tt.wantTotal, tx.Total)
			}
			if tx.ID != 0 {
				t.Errorf("Settle must leave the ID to the store, got %d", tx.ID)
			}
			if !tx.Timestamp.Equal(at) || tx.UserID != "u-1" {
				t.Errorf("Unexpected transaction %+v", tx)
			}

			// The input account is untouched.
			if !tt.acct.Balance.Equal(before.Balance) {
				t.Errorf("Input balance mutated: %s", tt.acct.Balance)
			}
			for symbol, qty := range before.Holdings {
				if tt.acct.Holdings[symbol] != qty {
					t.Errorf("Input holdings mutated: %v", tt.acct.Holdings)
				}
			}
		})
	}
}

func TestSettle_RoundTripConservesValue(t *testing.T) {
	priceOf := prices("NVDA", "475.61")
	start := account("10000.00", nil)

	for qty := int64(1); qty <= 21; qty++ {
		afterBuy, _, err := Settle(start, Order{Action: Buy, Symbol: "NVDA", Quantity: qty}, priceOf, at)
		if err != nil {
			t.Fatalf("buy %d: %v", qty, err)
		}
		afterSell, _, err := Settle(afterBuy, Order{Action: Sell, Symbol: "NVDA", Quantity: qty}, priceOf, at)
		if err != nil {
			t.Fatalf("sell %d: %v", qty, err)
		}

		if !afterSell.Balance.Equal(start.Balance) {
			t.Errorf("qty %d: expected balance %s back, got %s", qty, start.Balance, afterSell.Balance)
		}
		if _, held := afterSell.Holdings["NVDA"]; held {
			t.Errorf("qty %d: expected no NVDA left, got %v", qty, afterSell.Holdings)
		}
	}
}

func TestSettle_NeverGoesNegative(t *testing.T) {
	priceOf := prices("TSLA", "248.50")
	acct := account("1000.00", nil)

	orders := []Order{
		{Action: Buy, Symbol: "TSLA", Quantity: 3},
		{Action: Buy, Symbol: "TSLA", Quantity: 2},
		{Action: Sell, Symbol: "TSLA", Quantity: 4},
		{Action: Sell, Symbol: "TSLA", Quantity: 1},
		{Action: Buy, Symbol: "TSLA", Quantity: 5},
	}
	for _, o := range orders {
		next, _, err := Settle(acct, o, priceOf, at)
		if err != nil && !IsRejection(err) {
			t.Fatalf("Unexpected fault: %v", err)
		}
		if next.Balance.IsNegative() {
			t.Fatalf("Balance went negative: %s", next.Balance)
		}
		for symbol, qty := range next.Holdings {
			if qty < 0 {
				t.Fatalf("Holding %s went negative: %d", symbol, qty)
			}
		}
		acct = next
	}
}
