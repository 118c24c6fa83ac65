package feed

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"trade-ledger/pkg/logging"
	"trade-ledger/pkg/quote"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	defaultFloor   = decimal.RequireFromString("0.01")
	hundred        = decimal.NewFromInt(100)
	percentPlaces  = int32(2)
	currencyPlaces = int32(2)
)

// Config configures a Simulator.
type Config struct {
	// Interval between ticks (default: 5s)
	Interval time.Duration

	// MaxMove is the largest fractional move per tick (default: 0.02)
	MaxMove float64

	// Floor is the lowest price a symbol can reach (default: 0.01)
	Floor decimal.Decimal

	// Seed fixes the random walk; zero seeds from the runtime.
	Seed uint64

	Clock  func() time.Time
	Logger *logging.Logger
}

// Simulator random-walks every listed symbol and publishes each new price
// to the quote book with the next sequence number.
type Simulator struct {
	book   *quote.Book
	config Config
	logger *logging.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func New(book *quote.Book, config Config) *Simulator {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.MaxMove <= 0 || config.MaxMove >= 1 {
		config.MaxMove = 0.02
	}
	if !config.Floor.IsPositive() {
		config.Floor = defaultFloor
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}

	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Simulator{
		book:   book,
		config: config,
		logger: config.Logger.Named("feed"),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Run ticks until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("price feed started", zap.Duration("interval", s.config.Interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("price feed stopped")
			return nil
		case <-ticker.C:
			if err := s.Step(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("price tick failed", zap.Error(err))
			}
		}
	}
}

// Step moves every listed symbol once. A symbol that another feed has
// already advanced is skipped for this tick.
func (s *Simulator) Step(ctx context.Context) error {
	now := s.config.Clock().UTC()

	var errs []error
	for _, listing := range s.book.Listings() {
		current, err := s.book.Latest(ctx, listing.Symbol)
		if err != nil && !errors.Is(err, quote.ErrUnknownSymbol) {
			errs = append(errs, err)
			continue
		}
		if err != nil {
			// The snapshot expired or was never written. Resume from the last
			// one this book knows so the next Seq is accepted.
			last, ok := s.book.Last(listing.Symbol)
			if !ok {
				last = quote.Quote{Symbol: listing.Symbol, Price: listing.Price}
			}
			current = last
		}

		price := s.move(current.Price)
		next := quote.Quote{
			Symbol:        listing.Symbol,
			Name:          listing.Name,
			Price:         price,
			ChangePercent: changePercent(listing.Price, price),
			Seq:           current.Seq + 1,
			UpdatedAt:     now,
		}

		err = s.book.Publish(ctx, next)
		if errors.Is(err, quote.ErrStaleQuote) {
			s.logger.Debug("tick superseded", zap.String("symbol", listing.Symbol), zap.Uint64("seq", next.Seq))
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Simulator) move(price decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	u := (s.rng.Float64()*2 - 1) * s.config.MaxMove
	s.mu.Unlock()

	next := price.Mul(decimal.NewFromFloat(1 + u)).Round(currencyPlaces)
	if next.LessThan(s.config.Floor) {
		return s.config.Floor
	}
	return next
}

// changePercent is the move since the opening price.
func changePercent(open, price decimal.Decimal) decimal.Decimal {
	if open.IsZero() {
		return decimal.Zero
	}
	return price.Sub(open).Div(open).Mul(hundred).Round(percentPlaces)
}
