package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
	"github.com/0xc0d3d00d/tickerd/internal/pipeline"
)

// BarArchive answers historical bar queries.
type BarArchive interface {
	Query(ctx context.Context, symbol, timeframe string) ([]domain.Bar, error)
	QueryRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Bar, error)
}

// TickSource answers recent-tick queries.
type TickSource interface {
	Ticks(symbol string) []domain.Tick
}

// TickStream registers subscribers for the live tick fan-out.
type TickStream interface {
	Subscribe(ctx context.Context, buffer int) *pipeline.Subscriber
	Unsubscribe(ctx context.Context, sub *pipeline.Subscriber)
}

const (
	subscriberBuffer = 256
	writeTimeout     = 10 * time.Second
)

type Handler struct {
	bars     BarArchive
	ticks    TickSource
	stream   TickStream
	upgrader websocket.Upgrader
}

func NewHandler(bars BarArchive, ticks TickSource, stream TickStream) *Handler {
	return &Handler{
		bars:   bars,
		ticks:  ticks,
		stream: stream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes builds the router, including the liveliness/readiness probes and
// the Prometheus metrics endpoint.
func (h *Handler) Routes(ctx context.Context) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ohlc/{symbol}/{tf}", h.getBars).Methods(http.MethodGet)
	r.HandleFunc("/ticks/{symbol}", h.getTicks).Methods(http.MethodGet)
	r.HandleFunc("/ws/market", h.streamTicks)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", healthZHandleFunc())
	r.HandleFunc("/readyz", readyZHandleFunc(ctx))
	return r
}

// getBars serves the stored bar history for one series, sorted by timestamp
// ascending. Unknown symbols or timeframes yield an empty array, not an
// error. Optional from/to query parameters (RFC 3339) bound the range.
func (h *Handler) getBars(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := strings.ToLower(vars["symbol"])
	timeframe := vars["tf"]

	from, ok := parseTimeParam(w, r, "from", time.Time{})
	if !ok {
		return
	}
	to, ok := parseTimeParam(w, r, "to", maxQueryTime)
	if !ok {
		return
	}

	bars, err := h.bars.QueryRange(r.Context(), symbol, timeframe, from, to)
	if err != nil {
		slog.ErrorContext(r.Context(), "bar query failed", "symbol", symbol, "timeframe", timeframe, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if bars == nil {
		bars = []domain.Bar{}
	}

	writeJSON(w, http.StatusOK, bars)
}

// getTicks serves the in-memory recent-tick snapshot for one symbol.
func (h *Handler) getTicks(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToLower(mux.Vars(r)["symbol"])
	writeJSON(w, http.StatusOK, h.ticks.Ticks(symbol))
}

// streamTicks upgrades the connection and forwards every ingested tick as
// an individual text message. There is no replay and no acknowledgment; a
// subscriber that cannot keep up has its channel closed by the fan-out and
// the connection is torn down.
func (h *Handler) streamTicks(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	sub := h.stream.Subscribe(ctx, subscriberBuffer)
	defer h.stream.Unsubscribe(ctx, sub)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func parseTimeParam(w http.ResponseWriter, r *http.Request, name string, fallback time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name + " parameter"})
		return time.Time{}, false
	}
	return t.UTC(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

var maxQueryTime = time.Unix(1<<62, 0)

var (
	statusHealthy    = []byte(`{"status":"HEALTHY"}`)
	statusNotServing = []byte(`{"status":"NOT_SERVING"}`)
	statusServing    = []byte(`{"status":"SERVING"}`)
)

func readyZHandleFunc(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Content-Type", "application/json")
		if ctx.Err() != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write(statusNotServing)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(statusServing)
	}
}

func healthZHandleFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(statusHealthy)
	}
}
