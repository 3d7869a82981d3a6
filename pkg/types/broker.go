// Package types: broker gateway request/response structs.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a live bid/ask quote.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// Spread returns ask - bid.
func (t Tick) Spread() decimal.Decimal { return t.Ask.Sub(t.Bid) }

// AccountInfo is a snapshot of account equity and margin state.
type AccountInfo struct {
	Equity      decimal.Decimal `json:"equity"`
	Balance     decimal.Decimal `json:"balance"`
	FreeMargin  decimal.Decimal `json:"freeMargin"`
	MarginLevel decimal.Decimal `json:"marginLevel"`
}

// Position is an open broker position.
type Position struct {
	Ticket     int64           `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Type       DecisionType    `json:"type"` // BUY or SELL
	Volume     decimal.Decimal `json:"volume"`
	OpenPrice  decimal.Decimal `json:"openPrice"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	Profit     decimal.Decimal `json:"profit"`
	Magic      int64           `json:"magic"`
	OpenedAt   time.Time       `json:"openedAt"`
}

// DealEntry distinguishes opening from closing deals in history.
type DealEntry string

const (
	DealEntryIn  DealEntry = "in"
	DealEntryOut DealEntry = "out"
)

// Deal is a historical broker deal (fill).
type Deal struct {
	Ticket         int64           `json:"ticket"`
	PositionTicket int64           `json:"positionTicket"`
	Symbol         string          `json:"symbol"`
	Type           DecisionType    `json:"type"`
	Entry          DealEntry       `json:"entry"`
	Volume         decimal.Decimal `json:"volume"`
	Price          decimal.Decimal `json:"price"`
	Profit         decimal.Decimal `json:"profit"`
	Comment        string          `json:"comment"`
	Timestamp      time.Time       `json:"timestamp"`
}

// OrderAction selects the broker trade action.
type OrderAction string

const (
	ActionDeal OrderAction = "deal"
	ActionSLTP OrderAction = "sltp"
)

// OrderFilling selects the order filling policy.
type OrderFilling string

const (
	FillingFOK OrderFilling = "fok"
	FillingIOC OrderFilling = "ioc"
)

// OrderRequest is an outbound order or position-modify request.
type OrderRequest struct {
	Action      OrderAction     `json:"action"`
	Symbol      string          `json:"symbol"`
	Type        DecisionType    `json:"type"`
	Volume      decimal.Decimal `json:"volume"`
	Price       decimal.Decimal `json:"price"`
	StopLoss    decimal.Decimal `json:"sl"`
	TakeProfit  decimal.Decimal `json:"tp"`
	Deviation   int             `json:"deviation"`
	Magic       int64           `json:"magic"`
	Comment     string          `json:"comment"`
	TypeFilling OrderFilling    `json:"typeFilling"`
	Position    int64           `json:"position,omitempty"` // for sltp modify
}

// Retcode is the broker's result code for an order send.
type Retcode int

// Broker retcodes the engine acts on. Numeric values follow the MT5 wire
// protocol so live logs line up with broker documentation.
const (
	RetcodeDone         Retcode = 10009
	RetcodeRequote      Retcode = 10004
	RetcodeInvalidStops Retcode = 10016
	RetcodeMarketClosed Retcode = 10018
	RetcodeNoMoney      Retcode = 10019
	// RetcodeSimulated marks dry-run and paper sends that never reach a broker.
	RetcodeSimulated Retcode = -1
)

// Class buckets a retcode for failure accounting.
type RetcodeClass string

const (
	RetcodeClassSuccess   RetcodeClass = "success"
	RetcodeClassRetriable RetcodeClass = "retriable"
	RetcodeClassStops     RetcodeClass = "stops_invalid"
	RetcodeClassFatal     RetcodeClass = "fatal"
	RetcodeClassSimulated RetcodeClass = "simulated"
)

// Class categorizes the retcode.
func (r Retcode) Class() RetcodeClass {
	switch r {
	case RetcodeDone:
		return RetcodeClassSuccess
	case RetcodeRequote:
		return RetcodeClassRetriable
	case RetcodeInvalidStops:
		return RetcodeClassStops
	case RetcodeSimulated:
		return RetcodeClassSimulated
	default:
		return RetcodeClassFatal
	}
}

// Description returns a human-readable retcode description.
func (r Retcode) Description() string {
	switch r {
	case RetcodeDone:
		return "done"
	case RetcodeRequote:
		return "requote"
	case RetcodeInvalidStops:
		return "invalid stops"
	case RetcodeMarketClosed:
		return "market closed"
	case RetcodeNoMoney:
		return "no money"
	case RetcodeSimulated:
		return "simulated send"
	default:
		return "unknown"
	}
}

// OrderResult is the broker's response to an order send.
type OrderResult struct {
	Retcode     Retcode         `json:"retcode"`
	Description string          `json:"retcodeDescription"`
	Ticket      int64           `json:"ticket,omitempty"`
	Deal        int64           `json:"deal,omitempty"`
	Volume      decimal.Decimal `json:"volume"`
	Price       decimal.Decimal `json:"price"`
}

// OK reports whether the order was accepted.
func (r OrderResult) OK() bool { return r.Retcode == RetcodeDone || r.Retcode == RetcodeSimulated }
