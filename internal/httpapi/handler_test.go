package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/tickerd/internal/analytics"
	"github.com/0xc0d3d00d/tickerd/internal/domain"
	"github.com/0xc0d3d00d/tickerd/internal/pipeline"
	"github.com/0xc0d3d00d/tickerd/internal/resample"
	"github.com/0xc0d3d00d/tickerd/internal/store"
)

type stubArchive struct {
	bars      []domain.Bar
	lastQuery [2]string
}

func (s *stubArchive) Query(ctx context.Context, symbol, timeframe string) ([]domain.Bar, error) {
	return s.QueryRange(ctx, symbol, timeframe, time.Time{}, time.Now())
}

func (s *stubArchive) QueryRange(_ context.Context, symbol, timeframe string, _, _ time.Time) ([]domain.Bar, error) {
	s.lastQuery = [2]string{symbol, timeframe}
	return s.bars, nil
}

type stubTicks struct {
	ticks      []domain.Tick
	lastSymbol string
}

func (s *stubTicks) Ticks(symbol string) []domain.Tick {
	s.lastSymbol = symbol
	return s.ticks
}

type nopStream struct{}

func (nopStream) Subscribe(context.Context, int) *pipeline.Subscriber { return nil }
func (nopStream) Unsubscribe(context.Context, *pipeline.Subscriber)   {}

func TestGetBarsEmptySeries(t *testing.T) {
	archive := &stubArchive{}
	h := NewHandler(archive, &stubTicks{}, nopStream{})

	req := httptest.NewRequest(http.MethodGet, "/ohlc/BTCUSDT/1m", nil)
	rec := httptest.NewRecorder()
	h.Routes(context.Background()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, [2]string{"btcusdt", "1m"}, archive.lastQuery)
}

func TestGetBarsReturnsStoredBars(t *testing.T) {
	archive := &stubArchive{bars: []domain.Bar{{
		Symbol:    "btcusdt",
		Timeframe: "1m",
		Timestamp: time.Unix(60, 0).UTC(),
		Open:      100,
		High:      102,
		Low:       99,
		Close:     101,
		Volume:    4,
		Trades:    2,
	}}}
	h := NewHandler(archive, &stubTicks{}, nopStream{})

	req := httptest.NewRequest(http.MethodGet, "/ohlc/btcusdt/1m", nil)
	rec := httptest.NewRecorder()
	h.Routes(context.Background()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []domain.Bar
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, archive.bars[0], got[0])
}

func TestGetBarsRejectsInvalidTimeParam(t *testing.T) {
	h := NewHandler(&stubArchive{}, &stubTicks{}, nopStream{})

	req := httptest.NewRequest(http.MethodGet, "/ohlc/btcusdt/1m?from=yesterday", nil)
	rec := httptest.NewRecorder()
	h.Routes(context.Background()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTicksLowercasesSymbol(t *testing.T) {
	ticks := &stubTicks{ticks: []domain.Tick{{Symbol: "btcusdt", Timestamp: 1, Price: 100, Size: 1}}}
	h := NewHandler(&stubArchive{}, ticks, nopStream{})

	req := httptest.NewRequest(http.MethodGet, "/ticks/BTCUSDT", nil)
	rec := httptest.NewRecorder()
	h.Routes(context.Background()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "btcusdt", ticks.lastSymbol)

	var got []domain.Tick
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, ticks.ticks[0], got[0])
}

func TestHealthProbes(t *testing.T) {
	h := NewHandler(&stubArchive{}, &stubTicks{}, nopStream{})
	router := h.Routes(context.Background())

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

type fakeArchive struct{}

func (fakeArchive) Insert(context.Context, domain.Bar) error { return nil }

func TestMarketStreamDeliversTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	symbols := []string{"btcusdt"}
	catalog, err := domain.NewCatalog(map[string]int{"1m": 60})
	require.NoError(t, err)

	tickStore := store.NewTickStore(symbols, 100)
	barStore := store.NewBarStore(symbols, catalog, 100)
	engine := analytics.NewEngine(20, analytics.NewRuleTable(nil))
	pipe := pipeline.New(tickStore, resample.New(symbols, catalog, barStore), engine, fakeArchive{}, nil)
	go pipe.Run(ctx)

	h := NewHandler(&stubArchive{}, tickStore, pipe)
	srv := httptest.NewServer(h.Routes(ctx))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/market"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Keep submitting until the subscription registered by the upgrade
	// handler sees a broadcast.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		ts := int64(0)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ts += 1000
				pipe.Submit(ctx, domain.Tick{Symbol: "btcusdt", Timestamp: ts, Price: 100, Size: 1})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got domain.Tick
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "btcusdt", got.Symbol)
	assert.Equal(t, 100.0, got.Price)
}
