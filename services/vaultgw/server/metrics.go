package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"deltavault/observability"
	"deltavault/services/vaultgw/metrics"
)

const streamWriteTimeout = 10 * time.Second

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("cached") == "true" && s.poller != nil {
		if snap, ok := s.poller.Latest(); ok {
			s.writeJSON(w, http.StatusOK, snap.Response())
			return
		}
	}
	snap, err := s.agg.Fetch(r.Context())
	if err != nil {
		s.logger.Error("error fetching metrics from contract", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, metrics.ApiResponse{Success: false, Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Response())
}

func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metric history not configured")
		return
	}
	query := r.URL.Query()
	since, err := parseSince(query.Get("since"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	rows, err := s.history.List(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("metric history query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch metric history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rows})
}

// parseSince accepts RFC3339 or unix milliseconds.
func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errInvalidSince
	}
	return t.UTC(), nil
}

func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metric stream not configured")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns(s.cfg.CORS.AllowedOrigins)})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	gauge := observability.VaultGateway()
	gauge.StreamClients(1)
	defer gauge.StreamClients(-1)

	updates, cancel := s.poller.Subscribe()
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				if websocket.CloseStatus(err) == -1 {
					_ = conn.Close(websocket.StatusInternalError, "stream error")
				}
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap metrics.Snapshot) error {
	data, err := json.Marshal(snap.Response())
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// originPatterns converts CORS origins into the host patterns the websocket
// handshake matches against.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if _, host, ok := strings.Cut(origin, "://"); ok {
			origin = host
		}
		if origin != "" {
			patterns = append(patterns, strings.TrimSuffix(origin, "/"))
		}
	}
	return patterns
}
