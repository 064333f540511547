package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/glassquote/internal/auth"
	"github.com/Simplici0/glassquote/internal/db"
	"github.com/Simplici0/glassquote/internal/metrics"
	"github.com/Simplici0/glassquote/internal/migrations"
	"github.com/Simplici0/glassquote/internal/seed"
	"github.com/Simplici0/glassquote/internal/store"
)

const (
	testSecret = "test-secret"
	testAdmin  = "admin@example.com"
)

const workedExample = `{"width":24,"height":36,"thickness":"1/4","glass_type":"clear","quantity":1,"is_polished":true,"is_tempered":true}`

type testServer struct {
	handler http.Handler
	store   *store.Store
	cookie  *http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "server-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.Up(ctx, database, "../../migrations"))
	_, err = seed.Run(ctx, database)
	require.NoError(t, err)

	st := store.New(database)
	verifier := auth.NewVerifier(testSecret)
	srv := newServer(st, verifier, metrics.New(), 50*time.Millisecond)

	return &testServer{
		handler: srv.routes(),
		store:   st,
		cookie:  &http.Cookie{Name: auth.CookieName, Value: verifier.Sign(testAdmin)},
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if admin {
		req.AddCookie(ts.cookie)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestQuotePreview(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/quotes/preview", workedExample, false)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res map[string]any
	decodeBody(t, rr, &res)
	assert.InDelta(t, 853.39, res["quote_price"], 1e-9)
	assert.InDelta(t, 238.95, res["total"], 1e-9)
	assert.Equal(t, "divisor", res["formula_mode"])
	assert.NotContains(t, res, "error")
}

func TestQuotePreview_Rejection(t *testing.T) {
	ts := newTestServer(t)

	body := `{"width":10,"height":10,"thickness":"1/8","glass_type":"clear","quantity":1,"is_tempered":true}`
	rr := ts.do(t, http.MethodPost, "/api/quotes/preview", body, false)
	require.Equal(t, http.StatusOK, rr.Code)

	var res map[string]any
	decodeBody(t, rr, &res)
	assert.Equal(t, "thin_tempered", res["error_code"])
	assert.InDelta(t, 0, res["quote_price"], 0)
}

func TestQuotePreview_BadBody(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{`{`, `{"width":"wide"}`, `{"colour":"blue"}`} {
		rr := ts.do(t, http.MethodPost, "/api/quotes/preview", body, false)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestQuoteLog(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/quotes",
		`{"title":"Bathroom mirror","notes":"Client Rivera","request":`+workedExample+`}`, false)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created store.Quote
	decodeBody(t, rr, &created)
	assert.InDelta(t, 853.39, created.Result.QuotePrice, 1e-9)

	rr = ts.do(t, http.MethodPost, "/api/quotes", `{"title":"Shelf","request":`+workedExample+`}`, false)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/quotes?q=rivera", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Quotes []store.QuoteSummary `json:"quotes"`
	}
	decodeBody(t, rr, &list)
	require.Len(t, list.Quotes, 1)
	assert.Equal(t, created.ID, list.Quotes[0].ID)

	rr = ts.do(t, http.MethodGet, "/api/quotes/"+created.ID.String(), "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	var got store.Quote
	decodeBody(t, rr, &got)
	assert.Equal(t, "Bathroom mirror", got.Title)
	assert.Equal(t, created.Request, got.Request)

	rr = ts.do(t, http.MethodGet, "/api/quotes/"+created.ID.String()+"/text", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rr.Body.String(), "Bathroom mirror")
	assert.Contains(t, rr.Body.String(), "853.39")

	rr = ts.do(t, http.MethodGet, "/api/quotes/not-a-uuid", "", false)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = ts.do(t, http.MethodGet, "/api/quotes/00000000-0000-0000-0000-000000000001", "", false)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminRequiresSession(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/admin/formula", "", false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/formula", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: auth.NewVerifier("other").Sign(testAdmin)})
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rr = ts.do(t, http.MethodGet, "/api/admin/formula", "", true)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminFormula(t *testing.T) {
	ts := newTestServer(t)

	custom := `{"mode":"custom","divisor_value":0.28,"multiplier_value":3.5,` +
		`"custom_expression":"round(max(total * 4, 500), 2)",` +
		`"enable_base_price":true,"enable_polish":true,"enable_beveled":true,"enable_clipped_corners":true,` +
		`"enable_tempered_markup":true,"enable_shape_markup":true,"enable_contractor_discount":true}`

	rr := ts.do(t, http.MethodPut, "/api/admin/formula", strings.Replace(custom, "round(", "__import__(", 1), true)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = ts.do(t, http.MethodPut, "/api/admin/formula", custom, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ts.do(t, http.MethodPost, "/api/quotes/preview", workedExample, false)
	var res map[string]any
	decodeBody(t, rr, &res)
	assert.InDelta(t, 955.80, res["quote_price"], 1e-9)
	assert.Equal(t, "custom", res["formula_mode"])

	rr = ts.do(t, http.MethodGet, "/api/admin/formula/audit?limit=5", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	var audit struct {
		Entries []store.AuditEntry `json:"entries"`
	}
	decodeBody(t, rr, &audit)
	require.Len(t, audit.Entries, 1)
	assert.Equal(t, testAdmin, audit.Entries[0].ChangedBy)
	assert.Equal(t, "divisor", string(audit.Entries[0].Old.Mode))

	rr = ts.do(t, http.MethodGet, "/api/admin/formula/audit?limit=zero", "", true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminFormula_PartialBodyKeepsDefaults(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPut, "/api/admin/formula", `{"mode":"multiplier","multiplier_value":3}`, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	cfg, err := ts.store.FormulaConfig(context.Background())
	require.NoError(t, err)
	assert.True(t, cfg.EnableBasePrice)
	assert.True(t, cfg.EnablePolish)
	assert.True(t, cfg.EnableTemperedMarkup)

	rr = ts.do(t, http.MethodPost, "/api/quotes/preview", workedExample, false)
	var res map[string]any
	decodeBody(t, rr, &res)
	assert.InDelta(t, 716.85, res["quote_price"], 1e-9)
	assert.Equal(t, "multiplier", res["formula_mode"])

	nothing := `{"mode":"divisor","divisor_value":0.28,"enable_base_price":false,"enable_polish":false,` +
		`"enable_beveled":false,"enable_clipped_corners":false}`
	rr = ts.do(t, http.MethodPut, "/api/admin/formula", nothing, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestAdminFormulaValidate(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/admin/formula/validate", `{"expression":"total / 0.25"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	var ok validateFormulaResponse
	decodeBody(t, rr, &ok)
	assert.True(t, ok.Valid)
	require.NotNil(t, ok.SampleResult)
	assert.InDelta(t, 400, *ok.SampleResult, 1e-9)

	rr = ts.do(t, http.MethodPost, "/api/admin/formula/validate", `{"expression":"total / 0"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	var bad validateFormulaResponse
	decodeBody(t, rr, &bad)
	assert.False(t, bad.Valid)
	assert.Contains(t, bad.Error, "division by zero")
}

func TestAdminRates(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPut, "/api/admin/markups/tempered", `{"percent":50}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(t, http.MethodPut, "/api/admin/markups/tempered", `{"percent":150}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = ts.do(t, http.MethodPut, "/api/admin/glass-rates",
		`[{"thickness":"1/4","glass_type":"clear","base_price":10,"polish_price":1}]`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(t, http.MethodPut, "/api/admin/glass-rates", `[]`, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodPut, "/api/admin/settings",
		`{"minimum_sq_ft":3,"markup_divisor":0.25,"contractor_discount":0.15,"mirror_polish_rate":0.27}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(t, http.MethodPut, "/api/admin/settings",
		`{"minimum_sq_ft":-3,"markup_divisor":0.25,"contractor_discount":0.15,"mirror_polish_rate":0.27}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	snap, err := ts.store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50, snap.Markups["tempered"], 0)
	assert.InDelta(t, 0.25, snap.Settings.MarkupDivisor, 0)
}

func TestAdminSnapshotExportImport(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/admin/snapshot", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, yamlType, rr.Header().Get("Content-Type"))
	exported := rr.Body.String()
	assert.Contains(t, exported, "glass_rates:")
	assert.Contains(t, exported, "tempered: 35")

	updated := strings.Replace(exported, "tempered: 35", "tempered: 45", 1)
	rr = ts.do(t, http.MethodPut, "/api/admin/snapshot", updated, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	snap, err := ts.store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 45, snap.Markups["tempered"], 0)

	rr = ts.do(t, http.MethodPut, "/api/admin/snapshot", "glass_ratez: []\n", true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/quotes/preview", workedExample, false)
	rr := ts.do(t, http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `glassquote_quotes_total{outcome="priced"} 1`)
}
