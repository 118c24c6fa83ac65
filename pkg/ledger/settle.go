package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceFunc returns the latest known price for symbol, or false if the
// symbol has no current quote.
type PriceFunc func(symbol string) (decimal.Decimal, bool)

// Settle applies one order to acct at the price priceOf reports. It returns
// the updated account and the transaction; the transaction ID is left zero
// for the store to assign. On any error acct is returned untouched and no
// transaction is produced. The input account is never mutated.
func Settle(acct Account, order Order, priceOf PriceFunc, at time.Time) (Account, Transaction, error) {
	if order.Quantity <= 0 {
		return acct, Transaction{}, reject(InvalidQuantity, "quantity %d must be positive", order.Quantity)
	}
	if !order.Action.Valid() {
		return acct, Transaction{}, ErrInvalidAction
	}

	symbol := NormalizeSymbol(order.Symbol)
	price, ok := priceOf(symbol)
	if !ok || !price.IsPositive() {
		return acct, Transaction{}, reject(UnknownSymbol, "no quote for %q", symbol)
	}

	total := RoundCurrency(price.Mul(decimal.NewFromInt(order.Quantity)))
	held := acct.Holdings[symbol]

	next := acct.Clone()
	switch order.Action {
	case Buy:
		if acct.Balance.LessThan(total) {
			return acct, Transaction{}, reject(InsufficientFunds,
				"buying %d %s costs %s, balance is %s", order.Quantity, symbol, total.StringFixed(2), acct.Balance.StringFixed(2))
		}
		next.Balance = RoundCurrency(acct.Balance.Sub(total))
		next.Holdings[symbol] = held + order.Quantity

	case Sell:
		if held < order.Quantity {
			return acct, Transaction{}, reject(InsufficientHoldings,
				"selling %d %s, holding %d", order.Quantity, symbol, held)
		}
		next.Balance = RoundCurrency(acct.Balance.Add(total))
		if remaining := held - order.Quantity; remaining > 0 {
			next.Holdings[symbol] = remaining
		} else {
			delete(next.Holdings, symbol)
		}
	}

	tx := Transaction{
		UserID:    acct.ID,
		Action:    order.Action,
		Symbol:    symbol,
		Quantity:  order.Quantity,
		Price:     price,
		Total:     total,
		Timestamp: at,
	}

	return next, tx, nil
}
