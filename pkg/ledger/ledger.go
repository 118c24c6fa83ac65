package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-ledger/pkg/events"
	"trade-ledger/pkg/logging"
	"trade-ledger/pkg/metrics"
	"trade-ledger/pkg/quote"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuoteSource supplies the latest price snapshot for a symbol. Unknown or
// unquoted symbols fail with quote.ErrUnknownSymbol.
type QuoteSource interface {
	Latest(ctx context.Context, symbol string) (quote.Quote, error)
}

// EventSink accepts events for asynchronous delivery.
type EventSink interface {
	Write(ctx context.Context, msg events.Message) error
}

// DefaultStartingBalance is credited to every new account.
var DefaultStartingBalance = decimal.RequireFromString("10000.00")

// Config holds the Ledger's collaborators beyond the store and quotes.
type Config struct {
	StartingBalance decimal.Decimal
	Clock           func() time.Time
	Metrics         metrics.Collector
	Logger          *logging.Logger
	// Events receives a TradeExecuted message per settlement. Optional.
	Events EventSink
}

// Ledger settles orders against accounts held in a Store, at prices from a
// QuoteSource. The caller's identity is always passed in explicitly.
type Ledger struct {
	store    Store
	quotes   QuoteSource
	starting decimal.Decimal
	now      func() time.Time
	metrics  metrics.Collector
	logger   *logging.Logger
	events   EventSink
}

// Settlement is the result of a successful trade.
type Settlement struct {
	Transaction Transaction
	Balance     decimal.Decimal
	Holdings    map[string]int64
}

// New creates a Ledger.
func New(store Store, quotes QuoteSource, config Config) *Ledger {
	if config.StartingBalance.IsZero() {
		config.StartingBalance = DefaultStartingBalance
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}

	return &Ledger{
		store:    store,
		quotes:   quotes,
		starting: RoundCurrency(config.StartingBalance),
		now:      config.Clock,
		metrics:  config.Metrics,
		logger:   config.Logger.Named("ledger"),
		events:   config.Events,
	}
}

// Open creates an account funded with the starting balance.
func (l *Ledger) Open(ctx context.Context, accountID string) (Account, error) {
	acct := Account{
		ID:        accountID,
		Balance:   l.starting,
		Holdings:  map[string]int64{},
		CreatedAt: l.now().UTC(),
	}

	if err := l.store.CreateAccount(ctx, acct); err != nil {
		return Account{}, fmt.Errorf("open account %s: %w", accountID, err)
	}

	l.logger.Info("account opened",
		zap.String("account_id", accountID),
		zap.String("balance", acct.Balance.StringFixed(CurrencyPlaces)),
	)
	return acct, nil
}

// Trade settles order against the principal's account. Business refusals
// are returned as *Rejection; anything else is an internal fault.
func (l *Ledger) Trade(ctx context.Context, p Principal, order Order) (Settlement, error) {
	start := time.Now()
	order.Symbol = NormalizeSymbol(order.Symbol)

	settlement, err := l.trade(ctx, p, order)

	outcome := metrics.OutcomeSettled
	switch r, rejected := AsRejection(err); {
	case rejected:
		outcome = string(r.Kind)
		l.logger.Info("order rejected",
			zap.String("account_id", p.UserID),
			zap.String("action", string(order.Action)),
			zap.String("symbol", order.Symbol),
			zap.Int64("quantity", order.Quantity),
			zap.String("reason", string(r.Kind)),
		)
	case err != nil:
		outcome = metrics.OutcomeError
		l.logger.Error("order failed",
			zap.String("account_id", p.UserID),
			zap.String("action", string(order.Action)),
			zap.String("symbol", order.Symbol),
			zap.Error(err),
		)
	default:
		tx := settlement.Transaction
		l.logger.Info("order settled",
			zap.String("account_id", p.UserID),
			zap.Int64("transaction_id", tx.ID),
			zap.String("action", string(tx.Action)),
			zap.String("symbol", tx.Symbol),
			zap.Int64("quantity", tx.Quantity),
			zap.String("price", tx.Price.String()),
			zap.String("total", tx.Total.StringFixed(CurrencyPlaces)),
			zap.Duration("duration", time.Since(start)),
		)
	}
	l.metrics.RecordSettlement(string(order.Action), outcome, time.Since(start))

	return settlement, err
}

func (l *Ledger) trade(ctx context.Context, p Principal, order Order) (Settlement, error) {
	if p.UserID == "" {
		return Settlement{}, ErrNoPrincipal
	}
	if order.Quantity <= 0 {
		return Settlement{}, reject(InvalidQuantity, "quantity %d must be positive", order.Quantity)
	}
	if !order.Action.Valid() {
		return Settlement{}, ErrInvalidAction
	}

	q, err := l.quotes.Latest(ctx, order.Symbol)
	if errors.Is(err, quote.ErrUnknownSymbol) {
		return Settlement{}, reject(UnknownSymbol, "no quote for %q", order.Symbol)
	}
	if err != nil {
		return Settlement{}, fmt.Errorf("quote %s: %w", order.Symbol, err)
	}

	priceOf := func(symbol string) (decimal.Decimal, bool) {
		return q.Price, symbol == q.Symbol
	}
	at := l.now().UTC()

	acct, tx, err := l.store.Apply(ctx, p.UserID, func(acct Account) (Account, Transaction, error) {
		return Settle(acct, order, priceOf, at)
	})
	if err != nil {
		if IsRejection(err) {
			return Settlement{}, err
		}
		return Settlement{}, fmt.Errorf("settle for %s: %w", p.UserID, err)
	}

	l.publish(ctx, tx, acct.Balance)

	return Settlement{
		Transaction: tx,
		Balance:     acct.Balance,
		Holdings:    acct.Holdings,
	}, nil
}

// publish enqueues the trade event. Delivery problems never fail a trade
// that has already been stored.
func (l *Ledger) publish(ctx context.Context, tx Transaction, balance decimal.Decimal) {
	if l.events == nil {
		return
	}

	msg, err := events.TradeExecuted{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Action:        string(tx.Action),
		Symbol:        tx.Symbol,
		Quantity:      tx.Quantity,
		Price:         tx.Price,
		Total:         tx.Total,
		Balance:       balance,
		Timestamp:     tx.Timestamp,
	}.Message()
	if err == nil {
		err = l.events.Write(ctx, msg)
	}
	if err != nil {
		l.logger.Warn("trade event not queued",
			zap.Int64("transaction_id", tx.ID),
			zap.Error(err),
		)
	}
}

// Portfolio values the principal's holdings at the latest prices.
func (l *Ledger) Portfolio(ctx context.Context, p Principal) (Valuation, error) {
	if p.UserID == "" {
		return Valuation{}, ErrNoPrincipal
	}

	acct, err := l.store.Account(ctx, p.UserID)
	if err != nil {
		return Valuation{}, fmt.Errorf("portfolio for %s: %w", p.UserID, err)
	}

	quotes, err := l.quotesFor(ctx, acct)
	if err != nil {
		return Valuation{}, err
	}

	v := Value(acct, priceFuncOf(quotes))
	nameEach(v.Positions, quotes)
	return v, nil
}

// Statement builds the principal's statement with history in the given order.
func (l *Ledger) Statement(ctx context.Context, p Principal, order SortOrder) (Statement, error) {
	if p.UserID == "" {
		return Statement{}, ErrNoPrincipal
	}

	acct, history, err := l.store.Snapshot(ctx, p.UserID)
	if err != nil {
		return Statement{}, fmt.Errorf("statement for %s: %w", p.UserID, err)
	}

	quotes, err := l.quotesFor(ctx, acct)
	if err != nil {
		return Statement{}, err
	}

	st := BuildStatement(acct, history, priceFuncOf(quotes), order)
	st.Username = p.Username
	nameEach(st.Positions, quotes)
	return st, nil
}

// Transactions returns the principal's history in the given order, cut to
// limit entries when limit is positive.
func (l *Ledger) Transactions(ctx context.Context, p Principal, order SortOrder, limit int) ([]Transaction, error) {
	if p.UserID == "" {
		return nil, ErrNoPrincipal
	}

	history, err := l.store.Transactions(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("transactions for %s: %w", p.UserID, err)
	}

	sorted := SortTransactions(history, order)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// quotesFor fetches the latest quote of every held symbol. Symbols without a
// quote are left out and valued at zero.
func (l *Ledger) quotesFor(ctx context.Context, acct Account) (map[string]quote.Quote, error) {
	quotes := make(map[string]quote.Quote, len(acct.Holdings))
	for symbol, qty := range acct.Holdings {
		if qty <= 0 {
			continue
		}
		q, err := l.quotes.Latest(ctx, symbol)
		if errors.Is(err, quote.ErrUnknownSymbol) {
			l.logger.Warn("held symbol has no quote", zap.String("symbol", symbol))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("quote %s: %w", symbol, err)
		}
		quotes[symbol] = q
	}
	return quotes, nil
}

func priceFuncOf(quotes map[string]quote.Quote) PriceFunc {
	return func(symbol string) (decimal.Decimal, bool) {
		q, ok := quotes[symbol]
		return q.Price, ok
	}
}

func nameEach(positions []Position, quotes map[string]quote.Quote) {
	for i := range positions {
		positions[i].Name = quotes[positions[i].Symbol].Name
	}
}
