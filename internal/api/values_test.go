package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/halyard-io/pelorus/internal/telemetry"
	"github.com/halyard-io/pelorus/internal/units"
)

// seedSpeedPath installs a knots conversion rule and a fresh SOG sample.
func seedSpeedPath(t *testing.T, srv *Server) {
	t.Helper()

	err := srv.store.Update("navigation.speedOverGround", units.MetaDescriptor{
		BaseUnit:   "m/s",
		Category:   "speed",
		TargetUnit: "kn",
		Conversions: map[string]units.ConversionSpec{
			"kn": {
				Formula:        "value * 1.9438444924406",
				InverseFormula: "value / 1.9438444924406",
				Symbol:         "kn",
			},
		},
	})
	if err != nil {
		t.Fatalf("store.Update: %v", err)
	}

	srv.cache.Put("navigation.speedOverGround", "gps.0", telemetry.NumberValue(5.0), time.Now())
}

func TestListValues(t *testing.T) {
	srv := testServer(t)
	seedSpeedPath(t, srv)
	srv.cache.Put("environment.depth.belowTransducer", "sounder.0", telemetry.NumberValue(12.3), time.Now())
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/values/", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Values []telemetry.Reading `json:"values"`
		Count  int                 `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}

	// Paths come back sorted
	if resp.Values[0].Path != "environment.depth.belowTransducer" {
		t.Errorf("values[0].path = %q, want environment.depth.belowTransducer", resp.Values[0].Path)
	}
	if resp.Values[1].Path != "navigation.speedOverGround" {
		t.Errorf("values[1].path = %q, want navigation.speedOverGround", resp.Values[1].Path)
	}
}

func TestListValues_FreshFilter(t *testing.T) {
	srv := testServer(t)
	seedSpeedPath(t, srv)
	// A sample well outside the freshness window
	srv.cache.Put("environment.wind.speedApparent", "wind.0", telemetry.NumberValue(8.0), time.Now().Add(-time.Hour))
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/values/?fresh=true", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Values []telemetry.Reading `json:"values"`
		Count  int                 `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1 (stale path filtered)", resp.Count)
	}
	if resp.Values[0].Path != "navigation.speedOverGround" {
		t.Errorf("values[0].path = %q, want navigation.speedOverGround", resp.Values[0].Path)
	}
}

func TestGetValue_ConvertsToDisplayUnits(t *testing.T) {
	srv := testServer(t)
	seedSpeedPath(t, srv)
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/values/navigation.speedOverGround", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var reading telemetry.Reading
	if err := json.Unmarshal(w.Body.Bytes(), &reading); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if reading.Display == nil {
		t.Fatal("expected display value")
	}
	// 5 m/s ≈ 9.72 kn
	if math.Abs(*reading.Display-9.7192) > 0.001 {
		t.Errorf("display = %v, want ~9.7192", *reading.Display)
	}
	if reading.Symbol != "kn" {
		t.Errorf("symbol = %q, want kn", reading.Symbol)
	}
	if !reading.Fresh {
		t.Error("expected fresh reading")
	}
}

func TestGetValue_UnknownPath(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/values/navigation.nothingHere", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetValue_RuleWithoutSample(t *testing.T) {
	srv := testServer(t)
	seedSpeedPath(t, srv)
	srv.cache.Clear()
	router := srv.buildRouter()

	// The path is known through its rule even with no cached sample;
	// the reading carries the sentinel formatted string.
	req := authedRequest(t, http.MethodGet, "/api/v1/values/navigation.speedOverGround", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var reading telemetry.Reading
	if err := json.Unmarshal(w.Body.Bytes(), &reading); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if reading.Formatted != units.NoValue {
		t.Errorf("formatted = %q, want %q", reading.Formatted, units.NoValue)
	}
	if reading.Fresh {
		t.Error("reading without a sample must not be fresh")
	}
}

func TestGetValue_PerSourceBreakdown(t *testing.T) {
	srv := testServer(t)
	seedSpeedPath(t, srv)
	srv.cache.Put("navigation.speedOverGround", "gps.1", telemetry.NumberValue(5.2), time.Now())
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/values/navigation.speedOverGround?sources=true", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Reading telemetry.Reading            `json:"reading"`
		Sources map[string]telemetry.Reading `json:"sources"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(resp.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(resp.Sources))
	}
	if _, ok := resp.Sources["gps.0"]; !ok {
		t.Error("expected gps.0 in per-source breakdown")
	}
	if _, ok := resp.Sources["gps.1"]; !ok {
		t.Error("expected gps.1 in per-source breakdown")
	}
}

func TestPutValue_NoUpstream(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	body := `{"value": 1.57}`
	req := authedRequest(t, http.MethodPut, "/api/v1/values/steering.autopilot.target.headingMagnetic", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ─── Meta Endpoint Tests ───────────────────────────────────────────

func TestMetaSnapshot(t *testing.T) {
	srv := testServer(t)
	seedSpeedPath(t, srv)
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/meta/", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Rules []units.ConversionRule `json:"rules"`
		Count int                    `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	if resp.Rules[0].Path != "navigation.speedOverGround" {
		t.Errorf("rule path = %q, want navigation.speedOverGround", resp.Rules[0].Path)
	}
	if resp.Rules[0].TargetUnit != "kn" {
		t.Errorf("target unit = %q, want kn", resp.Rules[0].TargetUnit)
	}
}

func TestGetMeta(t *testing.T) {
	srv := testServer(t)
	seedSpeedPath(t, srv)
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/meta/navigation.speedOverGround", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var rule units.ConversionRule
	if err := json.Unmarshal(w.Body.Bytes(), &rule); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if rule.BaseUnit != "m/s" {
		t.Errorf("base unit = %q, want m/s", rule.BaseUnit)
	}
}

func TestGetMeta_NotFound(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/meta/navigation.nothingHere", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
