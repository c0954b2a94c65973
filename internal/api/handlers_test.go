package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"evsite/internal/config"
	"evsite/internal/events"
	"evsite/internal/metrics"
	"evsite/internal/model"
)

const unitParameters = `
parameters:
  unit:
    electricity_unit_price: 1
    consumption_ev: 1
    cost_of_ev_center: 5
    area_of_ev_center: 10
    ev_spply_factor: 1
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	data := filepath.Join(root, "data")
	writeFile(t, filepath.Join(data, "countries.csv"),
		"iso3,country,region,exclude\nKEN,Kenya,Sub-Saharan Africa,0\nUGA,Uganda,Sub-Saharan Africa,0\n")
	writeFile(t, filepath.Join(data, "KEN", "KEN_customers.csv"),
		"customer_id,admin_name,latitude,longitude,demand\n1,Nairobi,-1.2921,36.8219,40\n2,Mombasa,-4.0435,39.6682,40\n")
	writeFile(t, filepath.Join(data, "KEN", "KEN_ev_centers.csv"),
		"admin_name,latitude,longitude\nNairobi,-1.30,36.80\nMombasa,-4.05,39.66\n")
	writeFile(t, filepath.Join(data, "KEN", "KEN_region.csv"),
		"admin_name,latitude,longitude,demand\nNairobi,-1.2921,36.8219,100\nMombasa,-4.0435,39.6682,100\n")
	writeFile(t, filepath.Join(data, "UGA", "UGA_customers.csv"),
		"customer_id,admin_name,latitude,longitude,demand\n1,Kampala,0.3476,32.5825,500\n")
	writeFile(t, filepath.Join(data, "UGA", "UGA_ev_centers.csv"),
		"admin_name,latitude,longitude\nKampala,0.35,32.58\n")
	writeFile(t, filepath.Join(data, "UGA", "UGA_region.csv"),
		"admin_name,latitude,longitude,demand\nKampala,0.3476,32.5825,100\n")
	params := filepath.Join(root, "parameters.yaml")
	writeFile(t, params, unitParameters)

	return &config.Config{
		Port:           "0",
		DataDir:        data,
		ParametersFile: params,
		Region:         "Sub-Saharan Africa",
		Workers:        2,
		Auth:           config.AuthConfig{Mode: "off"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	rdr := bytes.NewReader([]byte(body))
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthReadyVersion(t *testing.T) {
	h := newTestServer(t, testConfig(t)).Routes()
	assert.Equal(t, 200, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, 200, do(t, h, http.MethodGet, "/readyz", "").Code)
	rr := do(t, h, http.MethodGet, "/version", "")
	assert.Equal(t, 200, rr.Code)
	assert.Contains(t, rr.Body.String(), "version")
}

func TestNewServerRejectsBadParameters(t *testing.T) {
	cfg := testConfig(t)
	cfg.ParametersFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewServer(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestCreatePlanFromDataDirAndRead(t *testing.T) {
	h := newTestServer(t, testConfig(t)).Routes()

	rr := do(t, h, http.MethodPost, "/v1/plans", `{"country":"ken"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	plan := decode[model.Plan](t, rr)
	assert.Equal(t, "KEN", plan.Country)
	assert.Equal(t, 2, plan.SitesBuilt)
	assert.InDelta(t, 100.0, plan.Objective, 1e-6)
	assert.Equal(t, "/v1/plans/"+plan.ID, rr.Header().Get("Location"))

	rr = do(t, h, http.MethodGet, "/v1/plans/"+plan.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, plan.ID, decode[model.Plan](t, rr).ID)

	rr = do(t, h, http.MethodGet, "/v1/countries/KEN/plan", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, plan.ID, decode[model.Plan](t, rr).ID)

	rr = do(t, h, http.MethodGet, "/v1/plans?country=KEN&limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[struct {
		Items      []model.Plan `json:"items"`
		NextCursor string       `json:"nextCursor"`
	}](t, rr)
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/plans/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/countries/GHA/plan", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/countries/GH/plan", "").Code)
}

func TestCreatePlanInlineTables(t *testing.T) {
	h := newTestServer(t, testConfig(t)).Routes()
	body := `{"country":"GHA","tables":{
        "customers":[{"customerId":"a","adminName":"Accra","location":{"lat":5.6,"lng":-0.19},"demand":10}],
        "sites":[{"adminName":"Accra","location":{"lat":5.55,"lng":-0.2}}],
        "regions":[{"adminName":"Accra","demand":20}]}}`
	rr := do(t, h, http.MethodPost, "/v1/plans", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	plan := decode[model.Plan](t, rr)
	require.Len(t, plan.Sites, 1)
	assert.Equal(t, "Ev_center 1", plan.Sites[0].SiteID)
	assert.Equal(t, model.BuildYes, plan.Sites[0].Build)
	assert.Equal(t, 50.0, plan.Sites[0].MinimizedCost)
}

func TestCreatePlanErrorMapping(t *testing.T) {
	h := newTestServer(t, testConfig(t)).Routes()

	tests := []struct {
		name   string
		body   string
		status int
		title  string
	}{
		{"bad json", `{`, http.StatusBadRequest, "Invalid JSON"},
		{"bad country", `{"country":"KE"}`, http.StatusBadRequest, "Invalid request"},
		{"missing tables", `{"country":"TZA"}`, http.StatusBadRequest, "Data Inconsistency"},
		{"infeasible", `{"country":"UGA"}`, http.StatusUnprocessableEntity, "Infeasible"},
		{"negative demand", `{"country":"GHA","tables":{"customers":[{"customerId":"a","demand":-1}],"sites":[{"adminName":"x"}],"regions":[{"demand":1}]}}`, http.StatusBadRequest, "Data Inconsistency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/plans", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			assert.Equal(t, tt.title, decode[Problem](t, rr).Title)
		})
	}
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodDelete, "/v1/plans", "").Code)
}

func TestMethodGuards(t *testing.T) {
	h := newTestServer(t, testConfig(t)).Routes()

	tests := []struct {
		method, path string
	}{
		{http.MethodDelete, "/v1/plans"},
		{http.MethodPost, "/v1/plans/0b6a8f3e-1f0a-4c55-9a43-2c1d3c3f4a10"},
		{http.MethodPost, "/v1/countries/KEN/plan"},
		{http.MethodGet, "/v1/plans/batch"},
		{http.MethodPost, "/v1/parameters"},
		{http.MethodPost, "/v1/plans/events/stream"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, tt.method, tt.path, "").Code)
		})
	}
}

func TestBatchUsesRegionAndIsolatesFailures(t *testing.T) {
	h := newTestServer(t, testConfig(t)).Routes()
	rr := do(t, h, http.MethodPost, "/v1/plans/batch", `{}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	out := decode[struct {
		Results []struct {
			Country string      `json:"country"`
			Status  string      `json:"status"`
			Plan    *model.Plan `json:"plan"`
		} `json:"results"`
		Failed int `json:"failed"`
	}](t, rr)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "KEN", out.Results[0].Country)
	assert.Equal(t, "ok", out.Results[0].Status)
	assert.NotNil(t, out.Results[0].Plan)
	assert.Equal(t, "infeasible", out.Results[1].Status)
	assert.Equal(t, 1, out.Failed)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/plans/batch", `{"countries":["KEN","ken"]}`).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits = config.LimitsConfig{PlansPerMinute: 1, Burst: 1}
	h := newTestServer(t, cfg).Routes()
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/plans", `{"country":"KEN"}`).Code)
	rr := do(t, h, http.MethodPost, "/v1/plans", `{"country":"KEN"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	// reads are not throttled
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/plans", "").Code)
}

func TestAuthRoles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Mode = "dev"
	h := newTestServer(t, cfg).Routes()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/v1/plans", `{"country":"KEN"}`).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/v1/plans", `{"country":"KEN"}`, "Authorization", "Bearer ann:viewer").Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/plans", `{"country":"KEN"}`, "Authorization", "Bearer ann:planner").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/parameters", "", "Authorization", "Bearer ann:viewer").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/parameters", "").Code)
	// health stays open
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestParameters(t *testing.T) {
	h := newTestServer(t, testConfig(t)).Routes()
	rr := do(t, h, http.MethodGet, "/v1/parameters", "")
	require.Equal(t, http.StatusOK, rr.Code)
	p := decode[model.TariffParameters](t, rr)
	assert.Equal(t, "unit", p.Name)
	assert.Equal(t, 5.0, p.CostOfEVCenter)
}

func TestEventsStream(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/plans/events/stream?country=ken", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, "event: heartbeat", sc.Text())

	s.Broker.Publish("KEN", events.Event{Type: events.PlanCompleted, Country: "KEN", PlanID: "p1"})
	var seen []string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			seen = append(seen, strings.TrimPrefix(line, "event: "))
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"planId":"p1"`) {
			break
		}
	}
	assert.Contains(t, seen, events.PlanCompleted)
}

func TestPlanEventsWebsocket(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/plans/ws?country=KEN"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var evt events.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "subscribed", evt.Type)
	assert.Equal(t, "KEN", evt.Country)

	resp, err := http.Post(ts.URL+"/v1/plans", "application/json", strings.NewReader(`{"country":"KEN"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, events.PlanStarted, evt.Type)
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, events.PlanCompleted, evt.Type)
	assert.NotEmpty(t, evt.PlanID)
}

func TestMetricsAndDocs(t *testing.T) {
	metrics.RegisterDefault()
	h := newTestServer(t, testConfig(t)).Routes()
	do(t, h, http.MethodGet, "/healthz", "")

	rr := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"}`)

	rr = do(t, h, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rr.Code)
	doc := decode[map[string]any](t, rr)
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/openapi.yaml", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/docs", "").Code)
}
