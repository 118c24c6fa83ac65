package api

import (
	"encoding/json"
	"net/http"
	"time"

	"trade-ledger/pkg/ledger"

	"github.com/shopspring/decimal"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
	Balance   string       `json:"balance,omitempty"`
}

type transactionResponse struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Symbol    string    `json:"symbol"`
	Quantity  int64     `json:"quantity"`
	Price     string    `json:"price"`
	Total     string    `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

type tradeResponse struct {
	Success     bool                `json:"success"`
	Transaction transactionResponse `json:"transaction"`
	NewBalance  string              `json:"newBalance"`
	Holdings    map[string]int64    `json:"holdings"`
}

type positionResponse struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Quantity int64  `json:"quantity"`
	Price    string `json:"price,omitempty"`
	Value    string `json:"value"`
	Priced   bool   `json:"priced"`
}

type portfolioResponse struct {
	Balance        string             `json:"balance"`
	PortfolioValue string             `json:"portfolioValue"`
	TotalValue     string             `json:"totalValue"`
	Positions      []positionResponse `json:"positions"`
}

type statementResponse struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	GeneratedAt time.Time `json:"generatedAt"`
	Order       string    `json:"order"`
	portfolioResponse
	Transactions []transactionResponse `json:"transactions"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(ledger.CurrencyPlaces)
}

func toTransaction(tx ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:        tx.ID,
		Action:    string(tx.Action),
		Symbol:    tx.Symbol,
		Quantity:  tx.Quantity,
		Price:     tx.Price.String(),
		Total:     money(tx.Total),
		Timestamp: tx.Timestamp,
	}
}

func toTransactions(txs []ledger.Transaction) []transactionResponse {
	out := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = toTransaction(tx)
	}
	return out
}

func toPortfolio(v ledger.Valuation) portfolioResponse {
	positions := make([]positionResponse, len(v.Positions))
	for i, p := range v.Positions {
		positions[i] = positionResponse{
			Symbol:   p.Symbol,
			Name:     p.Name,
			Quantity: p.Quantity,
			Value:    money(p.Value),
			Priced:   p.Priced,
		}
		if p.Priced {
			positions[i].Price = p.Price.String()
		}
	}
	return portfolioResponse{
		Balance:        money(v.Balance),
		PortfolioValue: money(v.PortfolioValue),
		TotalValue:     money(v.TotalValue),
		Positions:      positions,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, errorResponse{Success: false, Reason: reason, Message: message})
}
