// Package discovery streams newly created tokens from a websocket feed.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"token-harvester/internal/solana"
)

// Config configures the discovery feed.
type Config struct {
	URL string `koanf:"url" json:"url"`
	// SubscribeMethod is sent as {"method": ...} after every connect.
	SubscribeMethod string `koanf:"subscribe_method" json:"subscribe_method"`

	ReconnectDelay    time.Duration `koanf:"reconnect_delay" json:"reconnect_delay"`
	MaxReconnectDelay time.Duration `koanf:"max_reconnect_delay" json:"max_reconnect_delay"`
	PingInterval      time.Duration `koanf:"ping_interval" json:"ping_interval"`
	ReadTimeout       time.Duration `koanf:"read_timeout" json:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout" json:"write_timeout"`
}

// DefaultConfig returns the default feed timings.
func DefaultConfig() Config {
	return Config{
		SubscribeMethod:   "subscribeNewToken",
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

const maxSeen = 100_000

// NewToken is a token creation announced by the feed.
type NewToken struct {
	Mint      string    `json:"mint"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Creator   string    `json:"traderPublicKey"`
	TxType    string    `json:"txType"`
	Signature string    `json:"signature"`
	SeenAt    time.Time `json:"-"`
}

// Handler receives every valid new token. A returned error is logged only.
type Handler func(ctx context.Context, t NewToken) error

// Stats counts feed activity.
type Stats struct {
	Connects  int64 `json:"connects"`
	Received  int64 `json:"received"`
	Invalid   int64 `json:"invalid"`
	Delivered int64 `json:"delivered"`
	Connected bool  `json:"connected"`
}

// Feed keeps a websocket subscription alive and forwards new tokens.
type Feed struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger

	writeMu sync.Mutex

	// seen drops repeated announcements of a mint; reset when it reaches maxSeen.
	seen map[string]struct{}

	connects  atomic.Int64
	received  atomic.Int64
	invalid   atomic.Int64
	delivered atomic.Int64
	connected atomic.Bool
}

// NewFeed creates a feed. Zero timings take DefaultConfig values.
func NewFeed(cfg Config, handler Handler, logger *zap.Logger) *Feed {
	d := DefaultConfig()
	if cfg.SubscribeMethod == "" {
		cfg.SubscribeMethod = d.SubscribeMethod
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = d.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = d.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		cfg:     cfg,
		handler: handler,
		logger:  logger.Named("discovery"),
		seen:    make(map[string]struct{}),
	}
}

// Run connects and reads until ctx is done, reconnecting with exponential
// backoff after every failure. The delay resets once a session delivers a message.
func (f *Feed) Run(ctx context.Context) error {
	if f.cfg.URL == "" {
		return errors.New("discovery: url is required")
	}

	delay := f.cfg.ReconnectDelay
	for {
		gotMessage, err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if gotMessage {
			delay = f.cfg.ReconnectDelay
		}
		f.logger.Warn("feed disconnected", zap.Error(err), zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, f.cfg.MaxReconnectDelay)
	}
}

// Stats returns a snapshot of the counters.
func (f *Feed) Stats() Stats {
	return Stats{
		Connects:  f.connects.Load(),
		Received:  f.received.Load(),
		Invalid:   f.invalid.Load(),
		Delivered: f.delivered.Load(),
		Connected: f.connected.Load(),
	}
}

// session runs one connection until it fails. It reports whether any
// message was read.
func (f *Feed) session(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	f.connects.Add(1)
	f.connected.Store(true)

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		f.connected.Store(false)
		conn.Close()
		wg.Wait()
	}()

	if err := f.write(conn, map[string]string{"method": f.cfg.SubscribeMethod}); err != nil {
		return false, fmt.Errorf("write subscribe: %w", err)
	}
	f.logger.Info("feed subscribed", zap.String("method", f.cfg.SubscribeMethod))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		f.pingLoop(sessCtx, conn)
	}()
	go func() {
		// Unblock ReadMessage on shutdown.
		defer wg.Done()
		<-sessCtx.Done()
		conn.Close()
	}()

	got := false
	for {
		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return got, fmt.Errorf("read: %w", err)
		}
		got = true
		f.handleMessage(ctx, message)
	}
}

func (f *Feed) handleMessage(ctx context.Context, message []byte) {
	f.received.Add(1)

	var tok NewToken
	if err := json.Unmarshal(message, &tok); err != nil || tok.Mint == "" {
		// Subscription acks and other control messages carry no mint.
		return
	}
	if tok.TxType != "" && tok.TxType != "create" {
		return
	}
	if err := solana.ValidateAddress(tok.Mint); err != nil {
		f.invalid.Add(1)
		f.logger.Debug("drop invalid mint", zap.String("mint", tok.Mint), zap.Error(err))
		return
	}
	// The creator signed the create transaction, so it must be an ed25519
	// key. An off-curve creator is a program-derived address and cannot sign.
	if tok.Creator != "" && !solana.IsOnCurve(tok.Creator) {
		f.invalid.Add(1)
		f.logger.Debug("drop token with off-curve creator",
			zap.String("mint", tok.Mint), zap.String("creator", tok.Creator))
		return
	}
	if _, dup := f.seen[tok.Mint]; dup {
		return
	}
	if len(f.seen) >= maxSeen {
		f.seen = make(map[string]struct{})
	}
	f.seen[tok.Mint] = struct{}{}
	tok.SeenAt = time.Now().UTC()

	if err := f.handler(ctx, tok); err != nil {
		f.logger.Warn("handle new token", zap.String("mint", tok.Mint), zap.Error(err))
		return
	}
	f.delivered.Add(1)
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeControl(conn, websocket.PingMessage); err != nil {
				// The read loop notices a dead connection.
				return
			}
		}
	}
}

func (f *Feed) write(conn *websocket.Conn, v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	return conn.WriteJSON(v)
}

func (f *Feed) writeControl(conn *websocket.Conn, messageType int) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return conn.WriteControl(messageType, nil, time.Now().Add(f.cfg.WriteTimeout))
}
