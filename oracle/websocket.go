package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// priceMessage is the feed's wire format.
type priceMessage struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Ts     int64  `json:"ts"` // unix milliseconds, optional
}

// WSOracle subscribes to a websocket price stream and serves the latest
// sample from memory. The read loop reconnects with backoff; Sample never
// blocks on the network.
type WSOracle struct {
	URL    string
	Symbol string
	// MaxAge bounds how old the last message may be before Sample
	// reports ErrStalePrice. Zero means 30s.
	MaxAge       time.Duration
	Logger       *zap.Logger
	RetryBackoff time.Duration

	mu       sync.RWMutex
	last     decimal.Decimal
	lastAt   time.Time
	conn     *websocket.Conn
	cancel   context.CancelFunc
	doneChan chan struct{}
}

// logger is safe on a zero-value WSOracle; message handling runs before
// Start on reconnect paths and in tests.
func (w *WSOracle) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

// Start launches the background read loop.
func (w *WSOracle) Start() error {
	if w.URL == "" {
		return fmt.Errorf("oracle url is required")
	}
	if w.MaxAge <= 0 {
		w.MaxAge = 30 * time.Second
	}
	if w.RetryBackoff <= 0 {
		w.RetryBackoff = 3 * time.Second
	}
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.doneChan = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (w *WSOracle) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
	if w.doneChan != nil {
		<-w.doneChan
	}
}

// Sample returns the latest positive, non-stale price.
func (w *WSOracle) Sample(context.Context) (decimal.Decimal, error) {
	w.mu.RLock()
	last, lastAt := w.last, w.lastAt
	w.mu.RUnlock()

	if lastAt.IsZero() {
		return decimal.Zero, ErrNoPrice
	}
	if time.Since(lastAt) > w.MaxAge {
		return decimal.Zero, fmt.Errorf("%w: last update %s ago", ErrStalePrice, time.Since(lastAt).Round(time.Second))
	}
	if !last.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	return last, nil
}

func (w *WSOracle) run(ctx context.Context) {
	defer close(w.doneChan)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.readUntilError(ctx); err != nil && ctx.Err() == nil {
			w.logger().Warn("price feed disconnected, reconnecting",
				zap.String("url", w.URL), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.RetryBackoff):
		}
	}
}

func (w *WSOracle) readUntilError(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer conn.Close()

	w.logger().Info("price feed connected", zap.String("url", w.URL), zap.String("symbol", w.Symbol))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.handleMessage(raw)
	}
}

func (w *WSOracle) handleMessage(raw []byte) {
	var msg priceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger().Warn("unparseable feed message", zap.Error(err))
		return
	}
	if w.Symbol != "" && msg.Symbol != "" && msg.Symbol != w.Symbol {
		return
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil || !price.IsPositive() {
		w.logger().Warn("dropping invalid feed price", zap.String("price", msg.Price))
		return
	}
	at := time.Now().UTC()
	if msg.Ts > 0 {
		at = time.UnixMilli(msg.Ts).UTC()
	}
	w.mu.Lock()
	w.last = price
	w.lastAt = at
	w.mu.Unlock()
}
