package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/tiercache/cache"
	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/monitor"
	"github.com/c360/tiercache/store"
)

// liveStatsInterval is how often the websocket pushes a stats frame
const liveStatsInterval = 2 * time.Second

// maxRequestSize bounds admin request bodies
const maxRequestSize = 1 << 20

// RegisterHTTPHandlers mounts the admin endpoints under prefix
func (f *Facade) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"stats", f.requireMethod(http.MethodGet, f.handleStats))
	mux.HandleFunc(prefix+"stats/live", f.requireMethod(http.MethodGet, f.handleLiveStats))
	mux.HandleFunc(prefix+"health", f.requireMethod(http.MethodGet, f.handleHealth))
	mux.HandleFunc(prefix+"report", f.requireMethod(http.MethodGet, f.handleReport))
	mux.HandleFunc(prefix+"keys/top", f.requireMethod(http.MethodGet, f.handleTopKeys))
	mux.HandleFunc(prefix+"keys/info", f.requireMethod(http.MethodGet, f.handleKeyInfo))
	mux.HandleFunc(prefix+"invalidate", f.requireMethod(http.MethodPost, f.handleInvalidate))
	mux.HandleFunc(prefix+"invalidations", f.requireMethod(http.MethodGet, f.handleInvalidationHistory))
	mux.HandleFunc(prefix+"warm", f.requireMethod(http.MethodPost, f.handleWarm))
	mux.HandleFunc(prefix+"configs", f.handleConfigs)
	mux.HandleFunc(prefix+"configs/", f.handleConfigByName(prefix+"configs/"))
	mux.HandleFunc(prefix+"thresholds", f.handleThresholds)
	mux.HandleFunc(prefix+"config/export", f.requireMethod(http.MethodGet, f.handleExport))
	mux.HandleFunc(prefix+"config/import", f.requireMethod(http.MethodPost, f.handleImport))
}

func (f *Facade) requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			f.writeError(w, http.StatusMethodNotAllowed,
				fmt.Sprintf("method %s not allowed", r.Method))
			return
		}
		next(w, r)
	}
}

func (f *Facade) handleStats(w http.ResponseWriter, r *http.Request) {
	f.writeJSON(w, http.StatusOK, f.GetStats(r.Context()))
}

func (f *Facade) handleHealth(w http.ResponseWriter, _ *http.Request) {
	check := f.CheckHealth()
	system := f.SystemHealth()

	status := http.StatusOK
	if !check.Healthy || system.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}

	f.writeJSON(w, status, map[string]any{
		"check":  check,
		"system": system,
	})
}

func (f *Facade) handleReport(w http.ResponseWriter, r *http.Request) {
	period := monitor.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = monitor.PeriodHour
	}

	report, err := f.GetReport(r.Context(), period)
	if err != nil {
		f.writeErrorFrom(w, err)
		return
	}
	f.writeJSON(w, http.StatusOK, report)
}

func (f *Facade) handleTopKeys(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			f.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid n %q", raw))
			return
		}
		n = parsed
	}
	f.writeJSON(w, http.StatusOK, f.GetTopKeys(n))
}

func (f *Facade) handleKeyInfo(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		f.writeError(w, http.StatusBadRequest, "key query parameter is required")
		return
	}

	info, err := f.GetKeyInfo(r.Context(), key)
	if err != nil {
		f.writeErrorFrom(w, err)
		return
	}
	f.writeJSON(w, http.StatusOK, info)
}

// invalidateRequest selects exactly one invalidation mode
type invalidateRequest struct {
	Key     string   `json:"key,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Tag     string   `json:"tag,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	All     bool     `json:"all,omitempty"`
}

func (f *Facade) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !f.readJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	switch {
	case req.All:
		if err := f.ClearAll(ctx); err != nil {
			f.writeErrorFrom(w, err)
			return
		}
		f.writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
	case req.Key != "":
		if err := f.InvalidateKey(ctx, req.Key); err != nil {
			f.writeErrorFrom(w, err)
			return
		}
		f.writeJSON(w, http.StatusOK, map[string]any{"invalidated": 1})
	case req.Pattern != "":
		count, err := f.InvalidatePattern(ctx, req.Pattern)
		if err != nil {
			f.writeErrorFrom(w, err)
			return
		}
		f.writeJSON(w, http.StatusOK, map[string]any{"invalidated": count})
	case req.Tag != "":
		count, err := f.InvalidateTag(ctx, req.Tag)
		if err != nil {
			f.writeErrorFrom(w, err)
			return
		}
		f.writeJSON(w, http.StatusOK, map[string]any{"invalidated": count})
	case len(req.Keys) > 0:
		count, err := f.BulkInvalidate(ctx, req.Keys)
		if err != nil {
			f.writeErrorFrom(w, err)
			return
		}
		f.writeJSON(w, http.StatusOK, map[string]any{"invalidated": count})
	default:
		f.writeError(w, http.StatusBadRequest, "one of key, pattern, tag, keys, or all is required")
	}
}

func (f *Facade) handleInvalidationHistory(w http.ResponseWriter, r *http.Request) {
	period := monitor.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = monitor.PeriodDay
	}

	recs, err := f.GetInvalidationHistory(r.Context(), period)
	if err != nil {
		f.writeErrorFrom(w, err)
		return
	}
	f.writeJSON(w, http.StatusOK, recs)
}

func (f *Facade) handleWarm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !f.readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		f.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := f.WarmCache(r.Context(), req.Name); err != nil {
		f.writeErrorFrom(w, err)
		return
	}
	f.writeJSON(w, http.StatusOK, map[string]any{"warmed": req.Name})
}

func (f *Facade) handleConfigs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configs, err := f.ListWarmingConfigs(r.Context())
		if err != nil {
			f.writeErrorFrom(w, err)
			return
		}
		f.writeJSON(w, http.StatusOK, configs)
	case http.MethodPost:
		var cfg store.WarmingConfig
		if !f.readJSON(w, r, &cfg) {
			return
		}
		if err := f.CreateWarmingConfig(r.Context(), &cfg); err != nil {
			f.writeErrorFrom(w, err)
			return
		}
		f.writeJSON(w, http.StatusCreated, cfg)
	default:
		f.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
	}
}

func (f *Facade) handleConfigByName(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, prefix)
		if name == "" || strings.Contains(name, "/") {
			f.writeError(w, http.StatusNotFound, "resource not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			cfg, err := f.warmer.GetConfig(r.Context(), name)
			if err != nil {
				f.writeErrorFrom(w, err)
				return
			}
			f.writeJSON(w, http.StatusOK, cfg)
		case http.MethodDelete:
			if err := f.DeleteWarmingConfig(r.Context(), name); err != nil {
				f.writeErrorFrom(w, err)
				return
			}
			f.writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
		default:
			f.writeError(w, http.StatusMethodNotAllowed,
				fmt.Sprintf("method %s not allowed", r.Method))
		}
	}
}

func (f *Facade) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		f.writeJSON(w, http.StatusOK, f.monitor.Thresholds())
	case http.MethodPut:
		var t monitor.Thresholds
		if !f.readJSON(w, r, &t) {
			return
		}
		if err := f.SetThresholds(t); err != nil {
			f.writeErrorFrom(w, err)
			return
		}
		f.writeJSON(w, http.StatusOK, t)
	default:
		f.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
	}
}

func (f *Facade) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := f.ExportConfig(r.Context())
	if err != nil {
		f.writeErrorFrom(w, err)
		return
	}
	f.writeJSON(w, http.StatusOK, export)
}

func (f *Facade) handleImport(w http.ResponseWriter, r *http.Request) {
	var export ConfigExport
	if !f.readJSON(w, r, &export) {
		return
	}

	if err := f.ImportConfig(r.Context(), &export); err != nil {
		f.writeErrorFrom(w, err)
		return
	}
	f.writeJSON(w, http.StatusOK, map[string]any{
		"warming_configs": len(export.WarmingConfigs),
	})
}

var liveStatsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool {
		// The admin surface is expected to sit behind operator auth
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// statsFrame is one websocket push
type statsFrame struct {
	Timestamp time.Time       `json:"timestamp"`
	Stats     cache.Stats     `json:"stats"`
	Metrics   monitor.Metrics `json:"metrics"`
	Alerts    []monitor.Alert `json:"alerts,omitempty"`
}

// handleLiveStats upgrades to a websocket and pushes a stats frame every
// liveStatsInterval until the client disconnects
func (f *Facade) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	conn, err := liveStatsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		f.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close and control messages are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(liveStatsInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		frame := statsFrame{
			Timestamp: f.clock.Now(),
			Stats:     f.GetStats(ctx),
			Metrics:   f.monitor.Metrics(),
			Alerts:    f.monitor.Alerts(),
		}

		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readJSON decodes a bounded JSON body, writing the error response itself
func (f *Facade) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		f.writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		f.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (f *Facade) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.logger.Debug("response write failed", "error", err)
	}
}

func (f *Facade) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}
	data, _ := json.Marshal(response)
	w.Write(data)
}

// writeErrorFrom maps a domain error to an HTTP status. The admin surface
// is operator-facing, so messages pass through rather than being reduced
// to generic text.
func (f *Facade) writeErrorFrom(w http.ResponseWriter, err error) {
	f.writeError(w, mapErrorToHTTPStatus(err), err.Error())
}

func mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	if errors.IsNotFound(err) {
		return http.StatusNotFound
	}
	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
