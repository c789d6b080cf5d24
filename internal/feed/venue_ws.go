// Package feed delivers price ticks into the hedging engine, either straight
// from a venue WebSocket or via the Redis signal bus.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// TickHandler is called for each parsed price tick.
type TickHandler func(ctx context.Context, tick domain.Tick)

// wsTickMessage is the JSON shape the venue pushes per price update.
type wsTickMessage struct {
	Coin      string          `json:"coin"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"time"`
}

// wsSubscribeRequest asks the venue for price updates on a set of coins.
type wsSubscribeRequest struct {
	Op    string   `json:"op"`
	Coins []string `json:"coins"`
}

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// VenueWSFeed connects to the venue's price WebSocket, subscribes to the
// configured coins, and invokes the handler for each tick. It reconnects
// with backoff on disconnect.
type VenueWSFeed struct {
	wsURL     string
	coins     []string
	onTick    TickHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewVenueWSFeed creates a feed that will subscribe to the given coins.
func NewVenueWSFeed(wsURL string, coins []string, onTick TickHandler, logger *slog.Logger) *VenueWSFeed {
	return &VenueWSFeed{
		wsURL:  wsURL,
		coins:  coins,
		onTick: onTick,
		logger: logger.With(slog.String("component", "venue_ws_feed")),
		done:   make(chan struct{}),
	}
}

// Run connects and processes ticks until ctx is cancelled or Close is called.
func (f *VenueWSFeed) Run(ctx context.Context) error {
	if len(f.coins) == 0 {
		f.logger.Info("no coins to subscribe, exiting")
		return nil
	}

	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			b.Reset()
			continue
		}

		wait := b.Duration()
		f.logger.Warn("venue ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("wait", wait),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(wait):
		}
	}
}

func (f *VenueWSFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrWSDisconnect, f.wsURL, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(wsSubscribeRequest{Op: "subscribe", Coins: f.coins}); err != nil {
		return fmt.Errorf("%w: subscribe: %v", domain.ErrWSDisconnect, err)
	}
	f.logger.Info("venue ws subscribed", slog.Int("coins", len(f.coins)))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	// Keepalive pings; the read loop owns the connection lifetime.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
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
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %v", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(ctx, data)
	}
}

func (f *VenueWSFeed) handleMessage(ctx context.Context, data []byte) {
	var msg wsTickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("venue ws message not a tick",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	if msg.Coin == "" {
		return
	}

	ts := time.Now().UTC()
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		}
	}

	if f.onTick != nil {
		f.onTick(ctx, domain.Tick{Coin: msg.Coin, Price: msg.Price, Timestamp: ts})
	}
}

// Close stops the feed.
func (f *VenueWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
