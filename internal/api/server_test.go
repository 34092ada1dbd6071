package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/signalnine/nilmbench/internal/api"
	"github.com/signalnine/nilmbench/internal/catalog"
	"github.com/signalnine/nilmbench/internal/result"
)

var testKey = result.Key{Device: "kettle", Model: "FNET", ExperimentType: "Single", Experiment: "kettle_Single_Train_UKDALE_test_1_UKDALE"}

func newServer(t *testing.T, withCatalog bool) *api.Server {
	t.Helper()
	store := result.NewStore(afero.NewMemMapFs(), "root")
	for iter := 1; iter <= 2; iter++ {
		row := result.Row{Metrics: map[string]float64{"f1": 0.5 + 0.1*float64(iter)}, Epochs: 10 * iter, Hparams: `{"depth":4}`}
		ground := []float64{0, 1, 2, 3, 4, 5}
		if err := store.AppendReport(testKey, iter, row, ground, ground); err != nil {
			t.Fatalf("AppendReport: %v", err)
		}
	}
	var cat *catalog.Store
	if withCatalog {
		var err error
		cat, err = catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
		if err != nil {
			t.Fatalf("catalog.Open: %v", err)
		}
		t.Cleanup(func() { cat.Close() })
		runID, _ := cat.StartRun("abc", "{}")
		cat.StartFold(catalog.Fold{RunID: runID, Device: "kettle", Model: "FNET", Window: 50, Index: 1, Test: "2014-01-01..2014-01-10"})
	}
	return api.New(api.Options{Addr: ":0", Origins: []string{"*"}}, store, cat)
}

func get(t *testing.T, s *api.Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: invalid JSON %q: %v", path, rec.Body.String(), err)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	rec, body := get(t, newServer(t, false), "/healthz")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz: %d %v", rec.Code, body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header: %v", rec.Header())
	}
}

func TestListReports(t *testing.T) {
	rec, body := get(t, newServer(t, false), "/api/v1/reports")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	reports := body["reports"].([]any)
	if len(reports) != 1 || reports[0].(map[string]any)["experiment"] != testKey.Experiment {
		t.Errorf("reports: %v", reports)
	}
}

func TestGetReport(t *testing.T) {
	s := newServer(t, false)
	rec, body := get(t, s, "/api/v1/reports/kettle/FNET/Single/"+testKey.Experiment)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %v", rec.Code, body)
	}
	if rows := body["rows"].([]any); len(rows) != 2 {
		t.Errorf("rows: %v", rows)
	}

	rec, _ = get(t, s, "/api/v1/reports/kettle/FNET/Single/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing report: got %d, want 404", rec.Code)
	}
}

func TestGetPredictions(t *testing.T) {
	s := newServer(t, false)
	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantN     int
		wantEpoch float64
	}{
		{"slice", "/predictions/kettle/FNET/Single/" + testKey.Experiment + "/2?from=1&to=4", http.StatusOK, 3, 20},
		{"reversed limits", "/predictions/kettle/FNET/Single/" + testKey.Experiment + "/1?from=4&to=1", http.StatusOK, 3, 10},
		{"whole file", "/predictions/kettle/FNET/Single/" + testKey.Experiment + "/1", http.StatusOK, 6, 10},
		{"bad iteration", "/predictions/kettle/FNET/Single/" + testKey.Experiment + "/x", http.StatusBadRequest, 0, 0},
		{"bad limit", "/predictions/kettle/FNET/Single/" + testKey.Experiment + "/1?from=a", http.StatusBadRequest, 0, 0},
		{"missing iteration", "/predictions/kettle/FNET/Single/" + testKey.Experiment + "/9", http.StatusNotFound, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(t, s, "/api/v1"+tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("status: got %d, want %d (%v)", rec.Code, tt.wantCode, body)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if n := len(body["samples"].([]any)); n != tt.wantN {
				t.Errorf("samples: got %d, want %d", n, tt.wantN)
			}
			if got := body["report"].(map[string]any)["epochs"]; got != tt.wantEpoch {
				t.Errorf("report row epochs: got %v, want %v", got, tt.wantEpoch)
			}
		})
	}
}

func TestRuns(t *testing.T) {
	rec, _ := get(t, newServer(t, false), "/api/v1/runs")
	if rec.Code != http.StatusNotFound {
		t.Errorf("without catalog: got %d, want 404", rec.Code)
	}

	s := newServer(t, true)
	rec, body := get(t, s, "/api/v1/runs?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	runs := body["runs"].([]any)
	if len(runs) != 1 {
		t.Fatalf("runs: %v", runs)
	}
	id := runs[0].(map[string]any)["id"].(string)
	rec, body = get(t, s, "/api/v1/runs/"+id+"/folds")
	if rec.Code != http.StatusOK || len(body["folds"].([]any)) != 1 {
		t.Errorf("folds: %d %v", rec.Code, body)
	}
}
