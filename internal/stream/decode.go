package stream

import (
	"encoding/json"
	"fmt"

	"near-buybot/internal/types"
)

// Stream ids as published by the indexer. The testnet text log stream is
// the mainnet id with a _testnet suffix.
const (
	StreamTradeSwap      = "trade_swap"
	StreamLiquidityPool  = "liquidity_pool"
	StreamPreLaunch      = "prelaunch"
	StreamLogText        = "log_text"
	StreamLogTextTestnet = "log_text_testnet"
)

// AllStreams lists every stream a source subscribes to.
var AllStreams = []string{
	StreamTradeSwap,
	StreamLiquidityPool,
	StreamPreLaunch,
	StreamLogText,
	StreamLogTextTestnet,
}

// Decode parses one event payload from the named stream.
func Decode(streamID string, payload []byte) (types.Event, error) {
	return decodeEvent(streamID, payload)
}

func decodeEvent(streamID string, payload []byte) (types.Event, error) {
	switch streamID {
	case StreamTradeSwap:
		var event types.TradeSwapEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", streamID, err)
		}
		return &event, nil
	case StreamLiquidityPool:
		var event types.LiquidityPoolEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", streamID, err)
		}
		return &event, nil
	case StreamPreLaunch:
		var event types.PreLaunchEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", streamID, err)
		}
		return &event, nil
	case StreamLogText, StreamLogTextTestnet:
		var event types.LogTextEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", streamID, err)
		}
		event.Testnet = streamID == StreamLogTextTestnet
		return &event, nil
	default:
		return nil, fmt.Errorf("unknown stream id %q", streamID)
	}
}

// eventTxID extracts the transaction hash used for deduplication. Not every
// event variant is guaranteed to have one.
func eventTxID(event types.Event) string {
	switch e := event.(type) {
	case *types.TradeSwapEvent:
		return e.TransactionID
	case *types.LiquidityPoolEvent:
		return e.TransactionID
	case *types.PreLaunchEvent:
		return e.TransactionID
	case *types.LogTextEvent:
		return e.TransactionID
	default:
		return ""
	}
}
