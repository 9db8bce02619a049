package types

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType discriminates the indexer event union.
type EventType string

const (
	EventTradeSwap      EventType = "trade_swap"
	EventLiquidityPool  EventType = "liquidity_pool"
	EventPreLaunch      EventType = "prelaunch"
	EventLogText        EventType = "log_text"
	EventLogTextTestnet EventType = "log_text_testnet"
)

// Event is the indexer event union. Concrete types below; consumers
// type-switch on the variants they handle and ignore the rest.
type Event interface {
	EventType() EventType
	BlockTimestamp() time.Time
}

// EventHandler is implemented by every bot module that consumes indexer
// events. Handler errors are logged by the event loop, never fatal.
type EventHandler interface {
	HandleEvent(ctx context.Context, event Event) error
}

// TradeSwapEvent is one swap: signed raw-unit balance deltas per token
// contract, positive meaning the trader received that token.
type TradeSwapEvent struct {
	Trader             string                     `json:"trader"`
	BalanceChanges     map[string]decimal.Decimal `json:"balance_changes"`
	BlockHeight        uint64                     `json:"block_height"`
	TransactionID      string                     `json:"transaction_id"`
	Referrer           *string                    `json:"referrer,omitempty"`
	BlockTimestampNano int64                      `json:"block_timestamp_nanosec"`
}

func (e *TradeSwapEvent) EventType() EventType { return EventTradeSwap }

func (e *TradeSwapEvent) BlockTimestamp() time.Time {
	return time.Unix(0, e.BlockTimestampNano)
}

// TokenAmount is one leg of a liquidity event. Amount keeps the event's sign:
// positive on add, negative on remove.
type TokenAmount struct {
	TokenID string          `json:"token_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// LiquidityPoolEvent carries exactly two token legs.
type LiquidityPoolEvent struct {
	Pool               string         `json:"pool"`
	Provider           string         `json:"provider"`
	Amounts            [2]TokenAmount `json:"amounts"`
	BlockHeight        uint64         `json:"block_height"`
	TransactionID      string         `json:"transaction_id"`
	BlockTimestampNano int64          `json:"block_timestamp_nanosec"`
}

func (e *LiquidityPoolEvent) EventType() EventType { return EventLiquidityPool }

func (e *LiquidityPoolEvent) BlockTimestamp() time.Time {
	return time.Unix(0, e.BlockTimestampNano)
}

type PreLaunchKind string

const (
	PreLaunchDeposit  PreLaunchKind = "deposit"
	PreLaunchWithdraw PreLaunchKind = "withdraw"
	PreLaunchFinalize PreLaunchKind = "finalize"
)

// PreLaunchEvent is a deposit/withdraw/finalize on a pre-launch auction.
// TokenID is set only on finalize: the freshly deployed FT contract that
// subscriptions migrate to.
type PreLaunchEvent struct {
	Kind               PreLaunchKind   `json:"kind"`
	AuctionID          uint64          `json:"auction_id"`
	Account            string          `json:"account"`
	Amount             decimal.Decimal `json:"amount"`
	TokenID            string          `json:"token_id,omitempty"`
	TransactionID      string          `json:"transaction_id"`
	BlockTimestampNano int64           `json:"block_timestamp_nanosec"`
}

func (e *PreLaunchEvent) EventType() EventType { return EventPreLaunch }

func (e *PreLaunchEvent) BlockTimestamp() time.Time {
	return time.Unix(0, e.BlockTimestampNano)
}

// LogTextEvent is a plain-text contract log line.
type LogTextEvent struct {
	AccountID          string `json:"account_id"`
	PredecessorID      string `json:"predecessor_id"`
	LogText            string `json:"log_text"`
	TransactionID      string `json:"transaction_id"`
	Testnet            bool   `json:"-"`
	BlockTimestampNano int64  `json:"block_timestamp_nanosec"`
}

func (e *LogTextEvent) EventType() EventType {
	if e.Testnet {
		return EventLogTextTestnet
	}
	return EventLogText
}

func (e *LogTextEvent) BlockTimestamp() time.Time {
	return time.Unix(0, e.BlockTimestampNano)
}
