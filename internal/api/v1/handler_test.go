package v1

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chris5934/SheetSmith/internal/audit"
	"github.com/Chris5934/SheetSmith/internal/mapping"
	"github.com/Chris5934/SheetSmith/internal/ops"
	"github.com/Chris5934/SheetSmith/internal/safety"
	"github.com/Chris5934/SheetSmith/internal/sheet"
	"github.com/Chris5934/SheetSmith/internal/store"
)

type testAPI struct {
	router *gin.Engine
	mem    *sheet.MemoryClient
}

func newTestAPI(t *testing.T, limits safety.Limits) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mem := sheet.NewMemoryClient()
	mem.SetRows("balance", "Base", [][]string{
		{"Name", "HP", "Armor", "Speed", "Crit", "Base Damage"},
		{"Character A", "100", "5", "3", "0.1", "12"},
		{"Character B", "90", "4", "4", "0.2", "15"},
	})
	mem.SetRows("balance", "Damage", [][]string{
		{"Name", "Damage", "Armor Pen", "Damage", "Cooldown"},
		{"Character A", "12", "2", "30", "4"},
	})

	coord := mapping.NewCoordinator(st, 0)
	res := mapping.NewResolver(st, mem, coord, mapping.DefaultOptions(), nil)
	analyzer := safety.NewAnalyzer(limits, safety.DefaultRiskThresholds(), 0)
	pipeline := ops.NewPipeline(res, mem, analyzer, audit.NewTrail(st, nil))

	r := gin.New()
	NewHandler(st, res, pipeline).RegisterRoutes(r.Group("/api"))
	return &testAPI{router: r, mem: mem}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestResolveColumnEndpoint(t *testing.T) {
	api := newTestAPI(t, safety.DefaultLimits())

	w, out := api.do(t, http.MethodPost, "/api/mappings/resolve/column", map[string]any{
		"spreadsheet_id": "balance", "sheet": "Base", "header": "base damage",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "F", out["cellAddress"])

	w, out = api.do(t, http.MethodPost, "/api/mappings/resolve/cell", map[string]any{
		"spreadsheet_id": "balance", "sheet": "Base", "header": "Base Damage", "row_label": "Character B",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "F3", out["cellAddress"])

	w, out = api.do(t, http.MethodGet, "/api/spreadsheets/balance/mappings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, out["total"])
}

func TestResolveErrorsMapToStatus(t *testing.T) {
	api := newTestAPI(t, safety.DefaultLimits())

	w, out := api.do(t, http.MethodPost, "/api/mappings/resolve/column", map[string]any{
		"spreadsheet_id": "balance", "sheet": "Base", "header": "Mana",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "header_not_found", out["code"])

	w, out = api.do(t, http.MethodPost, "/api/mappings/resolve/column", map[string]any{
		"spreadsheet_id": "balance", "sheet": "Base", "header": "HP", "auto_create": false,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "mapping_not_found", out["code"])

	w, out = api.do(t, http.MethodPost, "/api/mappings/resolve/column", map[string]any{"sheet": "Base"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", out["code"])

	w, _ = api.do(t, http.MethodDelete, "/api/mappings/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = api.do(t, http.MethodDelete, "/api/mappings/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "mapping_not_found", out["code"])
}

func TestDisambiguationFlow(t *testing.T) {
	api := newTestAPI(t, safety.DefaultLimits())
	body := map[string]any{"spreadsheet_id": "balance", "sheet": "Damage", "header": "Damage"}

	w, out := api.do(t, http.MethodPost, "/api/mappings/resolve/column", body)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "disambiguation_required", out["code"])

	reqObj, ok := out["disambiguation"].(map[string]any)
	require.True(t, ok)
	id, _ := reqObj["id"].(string)
	require.NotEmpty(t, id)
	assert.Len(t, reqObj["candidates"], 2)

	w, out = api.do(t, http.MethodGet, "/api/disambiguations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, out["total"])

	w, out = api.do(t, http.MethodPost, "/api/disambiguations/"+id, map[string]any{"selected_index": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "index_out_of_range", out["code"])

	w, _ = api.do(t, http.MethodPost, "/api/disambiguations/"+id, map[string]any{"selected_index": 1, "user_label": "late damage"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, out = api.do(t, http.MethodPost, "/api/disambiguations/"+id, map[string]any{"selected_index": 1})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "disambiguation_request_gone", out["code"])

	w, out = api.do(t, http.MethodPost, "/api/mappings/resolve/column", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "D", out["cellAddress"])
}

func TestPreviewApplyEndpoints(t *testing.T) {
	api := newTestAPI(t, safety.DefaultLimits())

	w, out := api.do(t, http.MethodPost, "/api/ops/preview", map[string]any{
		"spreadsheet_id": "balance",
		"kind":           "set_values",
		"sheet":          "Base",
		"header":         "Base Damage",
		"values":         map[string]string{"Character A": "13"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := out["previewId"].(string)
	require.NotEmpty(t, id)
	assert.Contains(t, out["diffText"], "--- Base!F2")

	w, out = api.do(t, http.MethodGet, "/api/ops/previews/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "created", out["state"])

	w, out = api.do(t, http.MethodPost, "/api/ops/apply", map[string]any{"preview_id": id})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, out["cellsUpdated"])
	assert.Equal(t, true, out["success"])

	w, out = api.do(t, http.MethodPost, "/api/ops/previews/"+id+"/apply?confirm=true", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "preview_consumed", out["code"])

	w, out = api.do(t, http.MethodGet, "/api/audit-logs?spreadsheet_id=balance&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, out["total"])

	w, _ = api.do(t, http.MethodGet, "/api/audit-logs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = api.do(t, http.MethodGet, "/api/ops/previews/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "preview_not_found", out["code"])
}

func TestPreviewCancelEndpoint(t *testing.T) {
	api := newTestAPI(t, safety.DefaultLimits())

	w, out := api.do(t, http.MethodPost, "/api/ops/preview", map[string]any{
		"spreadsheet_id": "balance",
		"kind":           "set_cells",
		"cells": []map[string]string{
			{"sheet": "Base", "header": "HP", "row_label": "Character A", "value": "110"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := out["previewId"].(string)

	w, out = api.do(t, http.MethodPost, "/api/ops/previews/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", out["state"])

	w, out = api.do(t, http.MethodPost, "/api/ops/apply", map[string]any{"preview_id": id, "confirm": true})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "preview_cancelled", out["code"])
}

func TestPreviewValidationAndSafety(t *testing.T) {
	limits := safety.DefaultLimits()
	limits.MaxCellsPerOperation = 1
	api := newTestAPI(t, limits)

	w, out := api.do(t, http.MethodPost, "/api/ops/preview", map[string]any{
		"spreadsheet_id": "balance", "kind": "drop_table",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", out["code"])

	w, out = api.do(t, http.MethodPost, "/api/ops/preview", map[string]any{
		"spreadsheet_id": "balance",
		"kind":           "set_values",
		"sheet":          "Base",
		"header":         "HP",
		"values":         map[string]string{"Character A": "1", "Character B": "2"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, "safety_limit_exceeded", out["code"])
	scope := out["scope"].(map[string]any)
	assert.EqualValues(t, 2, scope["totalCells"])

	w, out = api.do(t, http.MethodPost, "/api/ops/preview", map[string]any{
		"spreadsheet_id": "balance",
		"kind":           "set_values",
		"sheet":          "Damage",
		"header":         "Damage",
		"values":         map[string]string{"Character A": "1"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "disambiguation_required", out["code"])
}

func TestPreviewRejectsOversizedBody(t *testing.T) {
	api := newTestAPI(t, safety.DefaultLimits())

	w, out := api.do(t, http.MethodPost, "/api/ops/preview", map[string]any{
		"spreadsheet_id": "balance",
		"kind":           "set_values",
		"sheet":          "Base",
		"header":         "HP",
		"description":    strings.Repeat("x", maxChangeRequestBytes),
		"values":         map[string]string{"Character A": "1"},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "request_too_large", out["code"])

	w, out = api.do(t, http.MethodGet, "/api/ops/previews?spreadsheet_id=balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, out["total"])
}

func TestHealthAndAuditEndpoints(t *testing.T) {
	api := newTestAPI(t, safety.DefaultLimits())

	w, out := api.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])
	limits := out["limits"].(map[string]any)
	assert.EqualValues(t, 500, limits["maxCellsPerOperation"])

	api.do(t, http.MethodPost, "/api/mappings/resolve/column", map[string]any{
		"spreadsheet_id": "balance", "sheet": "Base", "header": "HP",
	})
	api.mem.InsertColumn("balance", "Base", 1, "Level", "1", "2")

	w, out = api.do(t, http.MethodGet, "/api/spreadsheets/balance/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, out["moved"])

	w, out = api.do(t, http.MethodPost, "/api/spreadsheets/balance/repair", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, out["updated"], 1)
}
