// Package proxyhandler is the control loop that closes the measurement →
// state → decision feedback loop: for each inbound request it asks a
// Selector for a backend, forwards the request, times it, updates the
// Performance Registry, appends to the Request Log Sink, and returns the
// backend's response (or a synthetic gateway error) to the client.
package proxyhandler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/phi-labs-ltd/adaptive-proxy/internal/config"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/logsink"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/metrics"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/registry"
)

// Selector is the narrow capability the handler needs from a selector.Selector.
type Selector interface {
	Next() registry.Backend
}

// Handler is the Proxy Handler orchestrator. The Persistent field picks
// between the two connection-management variants described in the routing
// spec: a persistent variant reuses one shared *http.Client across every
// request, a non-persistent variant builds and tears down a fresh,
// force-close client per request.
type Handler struct {
	Selector    Selector
	Registry    *registry.Registry
	Sink        *logsink.Sink
	Metrics     *metrics.Metrics
	Mode        config.RoutingMode
	Timeout     time.Duration
	Persistent  bool
	Logger      *slog.Logger

	sharedClient *http.Client
}

// New builds a Handler. When persistent is true, a single shared client
// with an unbounded connection pool is created now and reused for every
// request until Close is called.
func New(sel Selector, reg *registry.Registry, sink *logsink.Sink, m *metrics.Metrics, mode config.RoutingMode, timeout time.Duration, persistent bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		Selector:   sel,
		Registry:   reg,
		Sink:       sink,
		Metrics:    m,
		Mode:       mode,
		Timeout:    timeout,
		Persistent: persistent,
		Logger:     logger,
	}
	if persistent {
		h.sharedClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        0,
				MaxIdleConnsPerHost: 0,
			},
			CheckRedirect: noRedirect,
		}
	}
	return h
}

// Close releases the persistent variant's shared client. It is a no-op for
// the non-persistent variant, whose clients are torn down per request.
func (h *Handler) Close() {
	if h.sharedClient != nil {
		h.sharedClient.CloseIdleConnections()
	}
}

// Router mounts the handler on the catch-all pattern that accepts any
// method and any path, matching the routing core's single externally
// visible behavior.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.HandleFunc("/*", h.ServeHTTP)
	return r
}

func noRedirect(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}

// ServeHTTP implements the full select → forward → time → record → log
// cycle for one inbound request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()

	backend := h.Selector.Next()

	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		body = nil
	}

	target := backend + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		h.finish(w, reqID, backend, -1, http.StatusBadGateway, "Invalid backend request")
		return
	}
	outReq.Header = r.Header.Clone()

	client := h.sharedClient
	if !h.Persistent {
		outReq.Header.Set("Connection", "close")
		client = &http.Client{
			Transport: &http.Transport{DisableKeepAlives: true},
			CheckRedirect: noRedirect,
		}
	}

	start := time.Now()
	resp, err := client.Do(outReq)
	if !h.Persistent {
		defer client.CloseIdleConnections()
	}

	if err != nil {
		latency := elapsedMs(start)
		if isTimeout(err) {
			h.Logger.Warn("backend timeout", "request_id", reqID, "backend", backend, "latency_ms", latency)
			h.finish(w, reqID, backend, latency, http.StatusGatewayTimeout, "Backend timeout")
			return
		}
		h.Logger.Error("backend transport error", "request_id", reqID, "backend", backend, "latency_ms", latency, "error", err)
		h.finish(w, reqID, backend, latency, http.StatusBadGateway, "Backend error: "+err.Error())
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	latency := elapsedMs(start)
	if err != nil {
		h.Logger.Error("backend response read error", "request_id", reqID, "backend", backend, "latency_ms", latency, "error", err)
		h.finish(w, reqID, backend, latency, http.StatusBadGateway, "Backend error: "+err.Error())
		return
	}

	status := resp.StatusCode
	h.Logger.Info("request forwarded", "request_id", reqID, "backend", backend, "latency_ms", latency, "status", status, "mode", h.Mode)

	h.record(backend, latency)
	h.observe(backend, strconv.Itoa(status), latency)
	h.appendLog(backend, latency, &status)

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	if !h.Persistent {
		w.Header().Set("Connection", "close")
	}
	w.Header().Set("X-Request-Id", reqID)
	w.WriteHeader(status)
	w.Write(respBody)
}

// finish handles the synthetic-error response paths (timeout/transport
// failure) shared by both connection-management variants.
func (h *Handler) finish(w http.ResponseWriter, reqID, backend string, latency int, status int, body string) {
	h.record(backend, latency)
	h.observe(backend, strconv.Itoa(status), latency)
	h.appendLog(backend, latency, nil)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Request-Id", reqID)
	if !h.Persistent {
		w.Header().Set("Connection", "close")
	}
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (h *Handler) record(backend string, latencyMs int) {
	if h.Registry == nil {
		return
	}
	h.Registry.Record(backend, float64(latencyMs))
	h.observeScores(backend)
}

func (h *Handler) observeScores(backend string) {
	if h.Metrics == nil || h.Registry == nil {
		return
	}
	h.Metrics.SetScore(backend, "sma", h.Registry.SMA(backend))
	h.Metrics.SetScore(backend, "ewma", h.Registry.EWMA(backend))
}

func (h *Handler) observe(backend, status string, latencyMs int) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.Observe(backend, status, float64(latencyMs))
}

func (h *Handler) appendLog(backend string, latencyMs int, status *int) {
	if h.Sink == nil {
		return
	}
	h.Sink.Append(logsink.Record{
		Timestamp:   time.Now(),
		Backend:     backend,
		LatencyMs:   latencyMs,
		StatusCode:  status,
		RoutingMode: string(h.Mode),
	})
}

func elapsedMs(start time.Time) int {
	return int(time.Since(start).Round(time.Millisecond) / time.Millisecond)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}
