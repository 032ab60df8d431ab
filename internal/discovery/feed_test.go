package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"filippo.io/edwards25519"
	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	mintA = "So11111111111111111111111111111111111111112"
	mintB = "11111111111111111111111111111111"
)

// y = 2 has no x on the curve, so this key cannot sign.
var offCurveKey = base58.Encode(append([]byte{2}, make([]byte, 31)...))

var walletKey = base58.Encode(edwards25519.NewGeneratorPoint().Bytes())

func TestFeed_DeliversValidatedTokensAndReconnects(t *testing.T) {
	var sessions atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]string
		if assert.NoError(t, json.Unmarshal(msg, &req)) {
			assert.Equal(t, "subscribeNewToken", req["method"])
		}

		switch sessions.Add(1) {
		case 1:
			for _, m := range []string{
				`{"message":"Successfully subscribed to token creation events."}`,
				`{"mint":"not-base58-0OIl","txType":"create"}`,
				`{"mint":"` + mintA + `","symbol":"AAA","txType":"create","traderPublicKey":"` + offCurveKey + `"}`,
				`{"mint":"` + mintA + `","symbol":"AAA","txType":"create","traderPublicKey":"` + walletKey + `"}`,
				`{"mint":"` + mintA + `","symbol":"AAA","txType":"create"}`,
				`{"mint":"` + mintB + `","txType":"buy"}`,
			} {
				assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
			}
			// Drop the connection to force a reconnect.
		default:
			assert.NoError(t, conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"mint":"`+mintB+`","symbol":"BBB","txType":"create"}`)))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	defer server.Close()

	got := make(chan NewToken, 10)
	feed := NewFeed(Config{
		URL:               "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	}, func(_ context.Context, tok NewToken) error {
		got <- tok
		return nil
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	var mints []string
	for len(mints) < 2 {
		select {
		case tok := <-got:
			mints = append(mints, tok.Mint)
			assert.False(t, tok.SeenAt.IsZero())
			if tok.Mint == mintA {
				assert.Equal(t, walletKey, tok.Creator)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v", mints)
		}
	}
	assert.Equal(t, []string{mintA, mintB}, mints)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}

	stats := feed.Stats()
	assert.GreaterOrEqual(t, stats.Connects, int64(2))
	assert.Equal(t, int64(2), stats.Invalid, "bad mint and off-curve creator")
	assert.Equal(t, int64(2), stats.Delivered)
	assert.False(t, stats.Connected)
}

func TestFeed_RequiresURL(t *testing.T) {
	feed := NewFeed(Config{}, func(context.Context, NewToken) error { return nil }, nil)
	assert.Error(t, feed.Run(context.Background()))
}
