package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"trade-ledger/pkg/auth"
	"trade-ledger/pkg/ledger"
	"trade-ledger/pkg/logging"
	"trade-ledger/pkg/quote"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ledger is the trading surface the API exposes.
type Ledger interface {
	Trade(ctx context.Context, p ledger.Principal, order ledger.Order) (ledger.Settlement, error)
	Portfolio(ctx context.Context, p ledger.Principal) (ledger.Valuation, error)
	Statement(ctx context.Context, p ledger.Principal, order ledger.SortOrder) (ledger.Statement, error)
	Transactions(ctx context.Context, p ledger.Principal, order ledger.SortOrder, limit int) ([]ledger.Transaction, error)
}

// Quotes serves the stock listing.
type Quotes interface {
	Latest(ctx context.Context, symbol string) (quote.Quote, error)
	List(ctx context.Context) ([]quote.Quote, error)
}

// Sessions registers users and resolves bearer tokens.
type Sessions interface {
	Register(ctx context.Context, username, password string) (auth.Session, ledger.Account, error)
	Login(ctx context.Context, username, password string) (auth.Session, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (ledger.Principal, error)
}

// StatusFunc reports component state for /status, e.g. circuit breakers.
type StatusFunc func() map[string]string

// Server is the HTTP front of the ledger.
type Server struct {
	ledger   Ledger
	quotes   Quotes
	sessions Sessions
	status   StatusFunc

	router   *mux.Router
	server   *http.Server
	config   ServerConfig
	logger   *logging.Logger
	validate *validator.Validate
	metrics  *httpMetrics
	started  time.Time
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RequestTimeout bounds the ledger and quote calls of one request.
	RequestTimeout time.Duration

	// Namespace prefixes the HTTP metrics.
	Namespace string

	// Registerer and Gatherer back /metrics (default: the global registry).
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Status is optional.
	Status StatusFunc

	Logger *logging.Logger
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 5 * time.Second,
		Namespace:      "trade_ledger",
	}
}

// NewServer wires the routes. It fails only if the HTTP metrics cannot be
// registered.
func NewServer(l Ledger, quotes Quotes, sessions Sessions, config ServerConfig) (*Server, error) {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}

	m, err := newHTTPMetrics(config.Namespace, config.Registerer)
	if err != nil {
		return nil, err
	}

	s := &Server{
		ledger:   l,
		quotes:   quotes,
		sessions: sessions,
		status:   config.Status,
		config:   config,
		logger:   config.Logger.Named("api"),
		validate: validator.New(),
		metrics:  m,
		started:  time.Now(),
	}

	r := mux.NewRouter()
	r.Use(s.metrics.middleware, s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/stocks", s.handleStocks).Methods(http.MethodGet)
	api.HandleFunc("/stocks/{symbol}", s.handleStock).Methods(http.MethodGet)

	private := api.NewRoute().Subrouter()
	private.Use(s.requireSession)
	private.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	private.HandleFunc("/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	private.HandleFunc("/trade", s.handleTrade).Methods(http.MethodPost)
	private.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodGet)
	private.HandleFunc("/statements", s.handleStatement).Methods(http.MethodGet)

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in a goroutine. Listen failures are sent on the returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "running",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	if s.status != nil {
		response["components"] = s.status()
	}
	writeJSON(w, http.StatusOK, response)
}
