package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultRangeWindow  = time.Hour
	defaultRangeStep    = time.Minute
)

// handleGetHistory returns recent locally-recorded samples for a path,
// newest first.
//
// Query parameters:
//   - source: restrict to one producing source
//   - limit: max entries (default 50, max 500)
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeServiceUnavailable(w, "sample history not configured")
		return
	}

	path := chi.URLParam(r, "path")
	if path == "" || len(path) > maxQueryParamLen {
		writeBadRequest(w, "invalid path")
		return
	}

	source := r.URL.Query().Get("source")
	if len(source) > maxQueryParamLen {
		writeBadRequest(w, "source exceeds maximum length")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	samples, err := s.history.GetSamples(r.Context(), path, source, limit)
	if err != nil {
		s.logger.Error("failed to load sample history", "path", path, "error", err)
		writeInternalError(w, "failed to load sample history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"samples": samples,
		"count":   len(samples),
	})
}

// handleGetHistoryRange proxies a PromQL range query over the recorded
// SI values for one path. Values come back in SI; the client converts
// for display using the path's rule from /meta.
//
// Query parameters:
//   - source: restrict to one producing source
//   - start, end: Unix seconds (default: the last hour)
//   - step: Prometheus duration string (default 1m)
func (s *Server) handleGetHistoryRange(w http.ResponseWriter, r *http.Request) {
	if s.tsdb == nil || !s.tsdb.IsConnected() {
		writeServiceUnavailable(w, "time-series database unavailable")
		return
	}

	path := chi.URLParam(r, "path")
	if path == "" || len(path) > maxQueryParamLen {
		writeBadRequest(w, "invalid path")
		return
	}

	source := r.URL.Query().Get("source")
	if len(source) > maxQueryParamLen {
		writeBadRequest(w, "source exceeds maximum length")
		return
	}

	start, end, step, err := parseRangeParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	query, err := buildSampleQuery(path, source)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	resp, err := s.tsdb.QueryRange(r.Context(), query, start, end, step)
	if err != nil {
		s.logger.Warn("range query failed", "path", path, "error", err)
		writeServiceUnavailable(w, "time-series database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseHistoryLimit parses and clamps the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

// parseRangeParams parses start/end/step for a range query, defaulting
// to the last hour at one-minute resolution.
func parseRangeParams(r *http.Request) (start, end time.Time, step time.Duration, err error) {
	q := r.URL.Query()

	end = time.Now().UTC()
	if raw := q.Get("end"); raw != "" {
		end, err = parseUnixParam(raw)
		if err != nil {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid end timestamp")
		}
	}

	start = end.Add(-defaultRangeWindow)
	if raw := q.Get("start"); raw != "" {
		start, err = parseUnixParam(raw)
		if err != nil {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid start timestamp")
		}
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("start must be before end")
	}

	step = defaultRangeStep
	if raw := q.Get("step"); raw != "" {
		step, err = time.ParseDuration(raw)
		if err != nil || step <= 0 {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid step duration")
		}
	}

	return start, end, step, nil
}

// parseUnixParam parses a Unix-seconds timestamp, accepting fractions.
func parseUnixParam(raw string) (time.Time, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, err
	}

	seconds, fraction := math.Modf(value)
	return time.Unix(int64(seconds), int64(fraction*float64(time.Second))).UTC(), nil
}

// buildSampleQuery builds a PromQL selector for a path's recorded samples.
// The line-protocol writer stores measurement "telemetry" field "value",
// which VictoriaMetrics exposes as the telemetry_value series.
func buildSampleQuery(path, source string) (string, error) {
	quotedPath, err := quotePromQLLabelValue(path)
	if err != nil {
		return "", err
	}

	if source == "" {
		return fmt.Sprintf("telemetry_value{path=%s}", quotedPath), nil
	}

	quotedSource, err := quotePromQLLabelValue(source)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("telemetry_value{path=%s,source=%s}", quotedPath, quotedSource), nil
}

// quotePromQLLabelValue safely quotes a label value for PromQL.
func quotePromQLLabelValue(value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("value is required")
	}
	if len(value) > maxQueryParamLen {
		return "", fmt.Errorf("value exceeds maximum length")
	}

	return strconv.Quote(value), nil
}
