package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trade-ledger/pkg/auth"
	"trade-ledger/pkg/ledger"
	"trade-ledger/pkg/quote"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type credentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// tradeRequest keeps quantity raw: clients send it as a number or a string.
type tradeRequest struct {
	Action   string          `json:"action" validate:"required,oneof=buy sell"`
	Symbol   string          `json:"symbol" validate:"required"`
	Quantity json.RawMessage `json:"quantity"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, acct, err := s.sessions.Register(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrUsernameTaken) {
		writeError(w, http.StatusConflict, "UsernameTaken", "username already exists")
		return
	}
	if err != nil {
		s.internalError(w, "register failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      userResponse{ID: session.Principal.UserID, Username: session.Principal.Username},
		Balance:   money(acct.Balance),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	session, err := s.sessions.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "InvalidCredentials", "invalid username or password")
		return
	}
	if err != nil {
		s.internalError(w, "login failed", err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      userResponse{ID: session.Principal.UserID, Username: session.Principal.Username},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), bearerToken(r)); err != nil {
		s.internalError(w, "logout failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	quotes, err := s.quotes.List(ctx)
	if err != nil {
		s.internalError(w, "list quotes failed", err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	symbol := ledger.NormalizeSymbol(mux.Vars(r)["symbol"])
	q, err := s.quotes.Latest(ctx, symbol)
	if errors.Is(err, quote.ErrUnknownSymbol) {
		writeError(w, http.StatusNotFound, string(ledger.UnknownSymbol), "no quote for "+symbol)
		return
	}
	if err != nil {
		s.internalError(w, "quote lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	v, err := s.ledger.Portfolio(ctx, p)
	if err != nil {
		s.internalError(w, "portfolio failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toPortfolio(v))
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))

	qty, err := ledger.ParseQuantity(rawQuantity(req.Quantity))
	if err != nil {
		s.writeTradeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", validationMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	settlement, err := s.ledger.Trade(ctx, p, ledger.Order{
		Action:   ledger.Action(req.Action),
		Symbol:   req.Symbol,
		Quantity: qty,
	})
	if err != nil {
		s.writeTradeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{
		Success:     true,
		Transaction: toTransaction(settlement.Transaction),
		NewBalance:  money(settlement.Balance),
		Holdings:    settlement.Holdings,
	})
}

func (s *Server) writeTradeError(w http.ResponseWriter, err error) {
	r, ok := ledger.AsRejection(err)
	if !ok {
		s.internalError(w, "trade failed", err)
		return
	}

	status := http.StatusUnprocessableEntity
	if r.Kind == ledger.InvalidQuantity {
		status = http.StatusBadRequest
	}
	writeError(w, status, string(r.Kind), r.Message)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	order, ok := ledger.ParseSortOrder(r.URL.Query().Get("order"), ledger.RecentFirst)
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "order must be asc or desc")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	history, err := s.ledger.Transactions(ctx, p, order, limit)
	if err != nil {
		s.internalError(w, "transactions failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order":        order.String(),
		"transactions": toTransactions(history),
	})
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	order, ok := ledger.ParseSortOrder(r.URL.Query().Get("order"), ledger.Chronological)
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "order must be asc or desc")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	st, err := s.ledger.Statement(ctx, p, order)
	if err != nil {
		s.internalError(w, "statement failed", err)
		return
	}

	writeJSON(w, http.StatusOK, statementResponse{
		UserID:            st.UserID,
		Username:          st.Username,
		GeneratedAt:       time.Now().UTC(),
		Order:             order.String(),
		portfolioResponse: toPortfolio(st.Valuation),
		Transactions:      toTransactions(st.Transactions),
	})
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", validationMessage(err))
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "InternalError", "")
}

// rawQuantity unwraps a JSON string so "10" and 10 parse alike.
func rawQuantity(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = strings.ToLower(fe.Field()) + " failed " + fe.Tag()
	}
	return strings.Join(fields, "; ")
}
