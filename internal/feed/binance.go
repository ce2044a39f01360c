package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
	"github.com/0xc0d3d00d/tickerd/internal/metrics"
)

const (
	handshakeTimeout = 10 * time.Second
	readDeadline     = 30 * time.Second
	pingInterval     = 15 * time.Second
	maxMessageSize   = 1 << 20
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
)

var errMalformedTrade = errors.New("malformed trade event")

// Sink accepts validated ticks from the feed.
type Sink interface {
	Submit(ctx context.Context, tick domain.Tick) error
}

// Feed consumes the exchange trade stream for a fixed symbol set and pushes
// validated ticks into the sink. Connection drops are handled here with
// capped exponential backoff; they never reach the core pipeline.
type Feed struct {
	baseURL string
	symbols []string
	sink    Sink
	metrics *metrics.Metrics
}

func New(baseURL string, symbols []string, sink Sink, m *metrics.Metrics) *Feed {
	return &Feed{
		baseURL: baseURL,
		symbols: symbols,
		sink:    sink,
		metrics: m,
	}
}

// Run connects and consumes until the context is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		return fmt.Errorf("feed requires at least one symbol")
	}

	streams := make([]string, len(f.symbols))
	for i, symbol := range f.symbols {
		streams[i] = strings.ToLower(symbol) + "@trade"
	}
	url := fmt.Sprintf("%s/%s", strings.TrimRight(f.baseURL, "/"), strings.Join(streams, "/"))

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := f.consume(ctx, url)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.WarnContext(ctx, "feed disconnected, retrying", "error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (f *Feed) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	slog.InfoContext(ctx, "connected market data feed", "url", url, "symbols", f.symbols)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, ok, err := ParseTrade(message)
		if err != nil {
			slog.WarnContext(ctx, "dropping malformed trade event", "error", err)
			if f.metrics != nil {
				f.metrics.TickRejected(ctx)
			}
			continue
		}
		if !ok {
			continue
		}

		if err := f.sink.Submit(ctx, tick); err != nil {
			return err
		}
	}
}

type tradeEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// ParseTrade decodes a raw stream message into a Tick. Non-trade events
// return ok=false; events missing required fields or carrying non-numeric
// values are rejected with an error before they can reach the pipeline.
func ParseTrade(message []byte) (domain.Tick, bool, error) {
	var event tradeEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return domain.Tick{}, false, fmt.Errorf("%w: %v", errMalformedTrade, err)
	}

	if event.Event != "trade" {
		return domain.Tick{}, false, nil
	}

	if event.Symbol == "" {
		return domain.Tick{}, false, fmt.Errorf("%w: missing symbol", errMalformedTrade)
	}

	timestamp := event.TradeTime
	if timestamp == 0 {
		timestamp = event.EventTime
	}
	if timestamp <= 0 {
		return domain.Tick{}, false, fmt.Errorf("%w: missing timestamp", errMalformedTrade)
	}

	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return domain.Tick{}, false, fmt.Errorf("%w: invalid price %q", errMalformedTrade, event.Price)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return domain.Tick{}, false, fmt.Errorf("%w: invalid price %q", errMalformedTrade, event.Price)
	}

	size, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil || size < 0 {
		return domain.Tick{}, false, fmt.Errorf("%w: invalid quantity %q", errMalformedTrade, event.Quantity)
	}

	return domain.Tick{
		Symbol:    strings.ToLower(event.Symbol),
		Timestamp: timestamp,
		Price:     price,
		Size:      size,
	}, true, nil
}
