package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsPingInterval     = 30 * time.Second
	wsReconnectGap     = 5 * time.Second
)

// WebSocketSource subscribes to the indexer's websocket fan-out, one
// connection per stream id. Each frame is a JSON array of event payloads.
type WebSocketSource struct {
	baseURL string
	dedup   *Deduplicator
	log     *logger.Logger
}

// NewWebSocketSource builds a source reading from baseURL/events/<stream>.
// dedup may be nil when no redis is available.
func NewWebSocketSource(baseURL string, dedup *Deduplicator, log *logger.Logger) *WebSocketSource {
	return &WebSocketSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		dedup:   dedup,
		log:     log,
	}
}

func (s *WebSocketSource) Start(ctx context.Context, out chan<- types.Event) {
	for _, streamID := range AllStreams {
		go s.streamLoop(ctx, streamID, out)
	}
	s.log.Info("Websocket event source started", "streams", len(AllStreams))
}

// streamLoop reconnects forever until ctx is cancelled.
func (s *WebSocketSource) streamLoop(ctx context.Context, streamID string, out chan<- types.Event) {
	url := s.baseURL + "/events/" + streamID

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.readConnection(ctx, url, streamID, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("Websocket connection lost, reconnecting", "stream", streamID, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wsReconnectGap):
		}
	}
}

func (s *WebSocketSource) readConnection(ctx context.Context, url, streamID string, out chan<- types.Event) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.log.Info("Websocket connected", "stream", streamID, "url", url)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var payloads []json.RawMessage
		if err := json.Unmarshal(message, &payloads); err != nil {
			s.log.Warn("Unparseable websocket frame", "stream", streamID, "error", err)
			continue
		}
		for _, payload := range payloads {
			event, err := decodeEvent(streamID, payload)
			if err != nil {
				s.log.Warn("Dropping undecodable event", "stream", streamID, "error", err)
				continue
			}
			if s.dedup != nil && s.dedup.Seen(ctx, streamID, eventTxID(event)) {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- event:
			}
		}
	}
}
