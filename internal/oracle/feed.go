package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	ReconnBaseDelay = 1 * time.Second
	ReconnMaxDelay  = 30 * time.Second
	PingPeriod      = 15 * time.Second
)

// PriceSource is what the allocation controller consumes: the latest
// mark for an asset and when it arrived.
type PriceSource interface {
	Mark(asset string) (decimal.Decimal, time.Time, bool)
}

// Feed maintains a websocket subscription to the trusted price oracle
// and keeps the latest mark per asset. Reconnects with exponential
// backoff; marks carry their arrival time so consumers can refuse stale
// data.
type Feed struct {
	url string

	mu          sync.RWMutex
	conn        *websocket.Conn
	marks       map[string]mark
	subs        []string
	isConnected bool

	ctx    context.Context
	cancel context.CancelFunc
}

type mark struct {
	price decimal.Decimal
	at    time.Time
}

func NewFeed(url string, assets []string) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		url:    url,
		marks:  make(map[string]mark),
		subs:   append([]string(nil), assets...),
		ctx:    ctx,
		cancel: cancel,
	}
	return f
}

// Start launches the connection loop in a background goroutine.
func (f *Feed) Start() {
	go f.runLoop()
}

// Stop closes the feed.
func (f *Feed) Stop() {
	f.cancel()
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
}

// Subscribe adds assets to the subscription list and updates the live
// connection if there is one.
func (f *Feed) Subscribe(assets []string) {
	f.mu.Lock()
	var added []string
	for _, a := range assets {
		found := false
		for _, existing := range f.subs {
			if existing == a {
				found = true
				break
			}
		}
		if !found {
			f.subs = append(f.subs, a)
			added = append(added, a)
		}
	}
	connected := f.isConnected
	f.mu.Unlock()

	if len(added) > 0 && connected {
		_ = f.sendSubscribe(added)
	}
}

// Mark returns the latest price for asset and its arrival time.
func (f *Feed) Mark(asset string) (decimal.Decimal, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.marks[asset]
	return m.price, m.at, ok
}

// SetMark injects a price directly, for tests and for deployments that
// push marks over the admin API instead of a feed.
func (f *Feed) SetMark(asset string, price decimal.Decimal) {
	f.mu.Lock()
	f.marks[asset] = mark{price: price, at: time.Now()}
	f.mu.Unlock()
}

func (f *Feed) runLoop() {
	delay := ReconnBaseDelay

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		if err := f.connect(); err != nil {
			logger.Error("oracle connection failed", "error", err, "retry_in", delay)
			time.Sleep(delay)
			delay *= 2
			if delay > ReconnMaxDelay {
				delay = ReconnMaxDelay
			}
			continue
		}

		delay = ReconnBaseDelay
		f.mu.Lock()
		f.isConnected = true
		f.mu.Unlock()

		f.mu.RLock()
		allSubs := append([]string(nil), f.subs...)
		f.mu.RUnlock()
		if len(allSubs) > 0 {
			if err := f.sendSubscribe(allSubs); err != nil {
				logger.Error("oracle resubscribe failed", "error", err)
				f.conn.Close()
				continue
			}
		}

		f.readLoop()

		f.mu.Lock()
		f.isConnected = false
		f.mu.Unlock()
	}
}

func (f *Feed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return err
	}
	f.conn = conn

	// Zombie check: no data or pong within the window means dead.
	readTimeout := PingPeriod + 10*time.Second
	f.conn.SetReadDeadline(time.Now().Add(readTimeout))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-f.ctx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				if !f.isConnected || f.conn == nil {
					f.mu.Unlock()
					return
				}
				err := f.conn.WriteMessage(websocket.PingMessage, []byte{})
				f.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	return nil
}

type wsMessage struct {
	Type  string `json:"type"`
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (f *Feed) readLoop() {
	defer f.conn.Close()

	readTimeout := PingPeriod + 10*time.Second

	for {
		f.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := f.conn.ReadMessage()
		if err != nil {
			logger.Error("oracle read error", "error", err)
			return
		}

		var msgs []wsMessage
		if err := json.Unmarshal(message, &msgs); err != nil {
			var single wsMessage
			if err2 := json.Unmarshal(message, &single); err2 == nil {
				msgs = []wsMessage{single}
			} else {
				continue
			}
		}

		for _, m := range msgs {
			if m.Type != "price" || m.Asset == "" {
				continue
			}
			price, err := decimal.NewFromString(m.Price)
			if err != nil {
				logger.Warn("oracle sent unparseable price", "asset", m.Asset, "price", m.Price)
				continue
			}
			f.mu.Lock()
			f.marks[m.Asset] = mark{price: price, at: time.Now()}
			f.mu.Unlock()
		}
	}
}

func (f *Feed) sendSubscribe(assets []string) error {
	msg := map[string]interface{}{
		"type":   "subscribe",
		"assets": assets,
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("no connection")
	}
	return f.conn.WriteJSON(msg)
}
