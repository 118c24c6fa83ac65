package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TopicTradeExecuted is the default topic for settled trades.
const TopicTradeExecuted = "trade_executed"

// Message is one event ready for a Publisher.
type Message struct {
	// Key orders messages: events with the same key are delivered in order.
	Key   string
	Value []byte
	Time  time.Time
}

// Publisher delivers messages to a downstream sink.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Name() string
	Close() error
}

// TradeExecuted is emitted after an order settles.
type TradeExecuted struct {
	TransactionID int64           `json:"transactionId"`
	UserID        string          `json:"userId"`
	Action        string          `json:"action"`
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Total         decimal.Decimal `json:"total"`
	Balance       decimal.Decimal `json:"balance"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Message encodes the event keyed by account, so one account's trades stay ordered.
func (e TradeExecuted) Message() (Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return Message{}, fmt.Errorf("events: encode trade %d: %w", e.TransactionID, err)
	}
	return Message{Key: e.UserID, Value: value, Time: e.Timestamp}, nil
}
