package stream

import (
	"context"
	"net/http"
	"time"

	"near-buybot/internal/registry"
	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

const (
	staleEventThreshold = 60 * time.Second
	statusPingFrequency = 30 * time.Second
)

// Loop drains the event channel and broadcasts each event to every
// registered handler. It also reports liveness to an external monitor by
// POSTing to the status ping url at most every 30 seconds.
type Loop struct {
	reg           *registry.Registry
	statusPingURL string
	client        *http.Client
	log           *logger.Logger
}

func NewLoop(reg *registry.Registry, statusPingURL string, log *logger.Logger) *Loop {
	if statusPingURL == "" {
		log.Warn("STATUS_PING_URL not set, status pings will not be sent")
	}
	return &Loop{
		reg:           reg,
		statusPingURL: statusPingURL,
		client:        &http.Client{Timeout: 10 * time.Second},
		log:           log,
	}
}

// Run blocks until ctx is cancelled or the channel closes.
func (l *Loop) Run(ctx context.Context, events <-chan types.Event) {
	lastPing := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if age := time.Since(event.BlockTimestamp()); age > staleEventThreshold {
				l.log.Warn("Event is older than 60 seconds", "type", event.EventType(), "age", age)
			}
			if l.statusPingURL != "" && time.Since(lastPing) > statusPingFrequency {
				l.sendStatusPing(ctx)
				lastPing = time.Now()
			}
			l.reg.HandleEvent(ctx, event)
		}
	}
}

func (l *Loop) sendStatusPing(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.statusPingURL, nil)
	if err != nil {
		l.log.Error("Failed to build status ping request", "error", err)
		return
	}
	resp, err := l.client.Do(req)
	if err != nil {
		l.log.Error("Failed to ping status url", "error", err)
		return
	}
	resp.Body.Close()
}
