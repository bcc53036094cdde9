package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	// DefaultWSURL is the Polymarket CLOB market channel endpoint.
	DefaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	wsPingInterval   = 10 * time.Second
	wsReadTimeout    = 30 * time.Second
	wsBackoffInitial = time.Second
	wsBackoffMax     = 30 * time.Second
)

// WSClient is a thin wrapper over a single websocket connection to the
// CLOB market channel. It is not safe for concurrent use; MarketStream
// owns the lifecycle.
type WSClient struct {
	url  string
	conn *websocket.Conn
}

func NewWSClient(url string) *WSClient {
	if url == "" {
		url = DefaultWSURL
	}
	return &WSClient{url: url}
}

func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)
	c.conn = conn
	return nil
}

func (c *WSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.conn = nil
	return err
}

// SubscribeMarket subscribes to price events for the given asset ids.
func (c *WSClient) SubscribeMarket(ctx context.Context, assetIDs []string) error {
	if c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	msg := map[string]any{
		"type":       "market",
		"assets_ids": assetIDs,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Read returns the next raw frame. Ping payloads are answered in place
// and skipped.
func (c *WSClient) Read(ctx context.Context) ([]byte, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("ws not connected")
	}
	for {
		readCtx, cancel := context.WithTimeout(ctx, wsReadTimeout)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			return nil, err
		}
		if isPingPayload(data) {
			if err := c.respondPong(ctx); err != nil {
				return nil, err
			}
			continue
		}
		return data, nil
	}
}

func (c *WSClient) respondPong(ctx context.Context) error {
	return c.conn.Write(ctx, websocket.MessageText, []byte("PONG"))
}

func isPingPayload(data []byte) bool {
	s := strings.TrimSpace(string(data))
	return strings.EqualFold(s, "PING") || strings.EqualFold(s, "PONG")
}

// PriceEvent is a normalized price update from the market channel.
type PriceEvent struct {
	AssetID string
	Price   string
}

// AssetIDProvider supplies the set of asset ids the stream should track.
type AssetIDProvider func(ctx context.Context) ([]string, error)

// MarketStream maintains a subscribed websocket connection, reconnecting
// with backoff and re-resolving the asset id set on an interval. Parsed
// price events are delivered to the handler.
type MarketStream struct {
	URL             string
	Logger          *zap.Logger
	Assets          AssetIDProvider
	Handle          func(ctx context.Context, ev PriceEvent)
	RefreshInterval time.Duration
}

func (s *MarketStream) Run(ctx context.Context) error {
	if s.Assets == nil || s.Handle == nil {
		return fmt.Errorf("market stream: assets provider and handler are required")
	}
	refresh := s.RefreshInterval
	if refresh <= 0 {
		refresh = time.Minute
	}
	backoff := wsBackoffInitial
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.runOnce(ctx, refresh)
		if err != nil && ctx.Err() == nil {
			s.Logger.Warn("market stream disconnected", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sleepWithJitter(ctx, backoff)
		backoff = nextBackoff(backoff)
	}
}

func (s *MarketStream) runOnce(ctx context.Context, refresh time.Duration) error {
	assets, err := s.Assets(ctx)
	if err != nil {
		return fmt.Errorf("resolve assets: %w", err)
	}
	if len(assets) == 0 {
		// Nothing to track yet. Wait for the refresh interval and retry.
		sleepWithJitter(ctx, refresh)
		return nil
	}

	client := NewWSClient(s.URL)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	if err := client.SubscribeMarket(ctx, assets); err != nil {
		return err
	}
	s.Logger.Info("market stream connected", zap.Int("assets", len(assets)))

	subscribed := setFromSlice(assets)
	refreshAt := time.Now().Add(refresh)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(refreshAt) {
			next, err := s.Assets(ctx)
			if err != nil {
				s.Logger.Warn("refresh assets failed", zap.Error(err))
			} else if !sameSet(subscribed, next) {
				// Asset set changed, reconnect with the new subscription.
				return nil
			}
			refreshAt = time.Now().Add(refresh)
		}
		data, err := client.Read(ctx)
		if err != nil {
			return err
		}
		s.dispatch(ctx, data)
	}
}

func (s *MarketStream) dispatch(ctx context.Context, data []byte) {
	events, err := parsePriceEvents(data)
	if err != nil {
		s.Logger.Debug("unparsed ws frame", zap.Error(err))
		return
	}
	for _, ev := range events {
		s.Handle(ctx, ev)
	}
}

// parsePriceEvents extracts price updates from a market channel frame.
// Frames arrive either as a single event object or an array of them.
func parsePriceEvents(data []byte) ([]PriceEvent, error) {
	var frames []json.RawMessage
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &frames); err != nil {
			return nil, err
		}
	} else {
		frames = []json.RawMessage{data}
	}
	var out []PriceEvent
	for _, raw := range frames {
		var ev struct {
			EventType string `json:"event_type"`
			AssetID   string `json:"asset_id"`
			Price     string `json:"price"`
			Changes   []struct {
				AssetID string `json:"asset_id"`
				Price   string `json:"price"`
			} `json:"changes"`
			PriceChanges []struct {
				AssetID string `json:"asset_id"`
				Price   string `json:"price"`
			} `json:"price_changes"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		switch strings.ToLower(ev.EventType) {
		case "last_trade_price":
			if ev.AssetID != "" && ev.Price != "" {
				out = append(out, PriceEvent{AssetID: ev.AssetID, Price: ev.Price})
			}
		case "price_change":
			for _, ch := range ev.Changes {
				if ch.AssetID != "" && ch.Price != "" {
					out = append(out, PriceEvent{AssetID: ch.AssetID, Price: ch.Price})
				}
			}
			for _, ch := range ev.PriceChanges {
				if ch.AssetID != "" && ch.Price != "" {
					out = append(out, PriceEvent{AssetID: ch.AssetID, Price: ch.Price})
				}
			}
		}
	}
	return out, nil
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > wsBackoffMax {
		next = wsBackoffMax
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	t := time.NewTimer(d + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func setFromSlice(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func sameSet(set map[string]struct{}, items []string) bool {
	if len(set) != len(items) {
		return false
	}
	for _, it := range items {
		if _, ok := set[it]; !ok {
			return false
		}
	}
	return true
}
