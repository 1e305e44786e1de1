package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/promptforge/promptforge/internal/api/handlers"
	"github.com/promptforge/promptforge/internal/artifacts"
	"github.com/promptforge/promptforge/internal/comfy"
	"github.com/promptforge/promptforge/internal/compose"
	"github.com/promptforge/promptforge/internal/experiments"
	"github.com/promptforge/promptforge/internal/intent"
	"github.com/promptforge/promptforge/internal/policy"
	"github.com/promptforge/promptforge/internal/progress"
	"github.com/promptforge/promptforge/internal/provenance"
	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/internal/scheduler"
	"github.com/promptforge/promptforge/internal/workflows"
	"github.com/promptforge/promptforge/pkg/models"
)

const categoriesYAML = `id: cyberpunk
type: style
display_name: Cyberpunk
keywords:
  primary: [cyberpunk, neon]
prompts:
  positive:
    required: ["neon-lit streets"]
  negative:
    required: ["daylight"]
loras:
  required:
    - filename: cyberpunk_v2.safetensors
      strength: 0.8
settings:
  steps:
    default: 20
`

const forestYAML = `id: forest
type: subject
display_name: Forest
keywords:
  primary: [forest, woods]
prompts:
  positive:
    required: ["ancient forest"]
`

// backend is a fake diffusion service: HTTP API plus a websocket that emits
// one progress frame and the terminal executing frame for every prompt.
func backend(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"system":{}}`))
	})
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prompt_id":"p-1"}`))
	})
	mux.HandleFunc("/history/p-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"p-1":{"outputs":{"9":{"images":[{"filename":"out.png","subfolder":"","type":"output"}]}},"status":{"status_str":"success","completed":true}}}`))
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/interrupt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(400 * time.Millisecond)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"progress","data":{"value":10,"max":20,"prompt_id":"p-1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"node":null,"prompt_id":"p-1"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	return httptest.NewServer(mux)
}

// newTestServer assembles the whole control plane over the fake backend.
func newTestServer(t *testing.T) (*httptest.Server, *provenance.Tracker) {
	t.Helper()

	catDir := t.TempDir()
	for name, doc := range map[string]string{"cyberpunk.yaml": categoriesYAML, "forest.yaml": forestYAML} {
		if err := os.WriteFile(filepath.Join(catDir, name), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reg := registry.New()
	if err := reg.Load(catDir); err != nil {
		t.Fatalf("load categories: %v", err)
	}

	wfDir := t.TempDir()
	template := `{
		"1": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}, "_meta": {"title": "Positive Prompt"}},
		"2": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}, "_meta": {"title": "Negative Prompt"}},
		"3": {"class_type": "KSampler", "inputs": {"seed": 0, "steps": 30, "cfg": 7.5}},
		"4": {"class_type": "EmptyLatentImage", "inputs": {"width": 1024, "height": 1024}}
	}`
	if err := os.WriteFile(filepath.Join(wfDir, "flux-dev.json"), []byte(template), 0o644); err != nil {
		t.Fatal(err)
	}
	wf := workflows.New()
	if err := wf.Load(wfDir); err != nil {
		t.Fatalf("load workflows: %v", err)
	}

	be := backend(t)
	t.Cleanup(be.Close)

	store := artifacts.NewMemoryStore("http://api.local")
	tracker := provenance.New(experiments.NewMemoryStore(), reg, "")
	client := comfy.NewClient(be.URL)
	executor := comfy.NewExecutorWithClientID(client, wf, store, "test-client", 10*time.Second, 10*time.Millisecond)
	hub := progress.NewHub("ws"+strings.TrimPrefix(be.URL, "http")+"/ws", "test-client")
	parser := intent.NewHybridParser(reg, nil)
	engine := compose.NewEngine(reg, wf)
	sched := scheduler.New(parser, engine, policy.NewEnforcer(), reg, executor, hub, tracker)

	h := handlers.New(reg, wf, sched, engine, parser, policy.NewEnforcer(), tracker, hub, client, store, "test")
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, tracker
}

func getJSON(t *testing.T, url string, wantStatus int, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func postJSON(t *testing.T, url string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	var health map[string]interface{}
	getJSON(t, srv.URL+"/health", http.StatusOK, &health)
	if health["status"] != "healthy" {
		t.Errorf("got health %v", health)
	}
	if health["categories"].(float64) != 2 {
		t.Errorf("got %v categories", health["categories"])
	}

	var version map[string]string
	getJSON(t, srv.URL+"/version", http.StatusOK, &version)
	if version["version"] != "test" {
		t.Errorf("got version %v", version)
	}
}

func TestListCategories(t *testing.T) {
	srv, _ := newTestServer(t)

	var page struct {
		Categories []models.Category `json:"categories"`
		Total      int               `json:"total"`
	}
	getJSON(t, srv.URL+"/api/v1/categories", http.StatusOK, &page)
	if page.Total != 2 || len(page.Categories) != 2 {
		t.Errorf("got %d/%d categories", len(page.Categories), page.Total)
	}

	getJSON(t, srv.URL+"/api/v1/categories?type=style", http.StatusOK, &page)
	if page.Total != 1 || page.Categories[0].ID != "cyberpunk" {
		t.Errorf("type filter wrong: %+v", page)
	}

	getJSON(t, srv.URL+"/api/v1/categories?q=woods", http.StatusOK, &page)
	if page.Total != 1 || page.Categories[0].ID != "forest" {
		t.Errorf("search wrong: %+v", page)
	}

	getJSON(t, srv.URL+"/api/v1/categories?page=2&page_size=1", http.StatusOK, &page)
	if len(page.Categories) != 1 || page.Total != 2 {
		t.Errorf("pagination wrong: %+v", page)
	}

	getJSON(t, srv.URL+"/api/v1/categories?type=bogus", http.StatusBadRequest, nil)
}

func TestGetCategory(t *testing.T) {
	srv, _ := newTestServer(t)

	var cat models.Category
	getJSON(t, srv.URL+"/api/v1/categories/cyberpunk", http.StatusOK, &cat)
	if cat.DisplayName != "Cyberpunk" {
		t.Errorf("got %+v", cat)
	}
	getJSON(t, srv.URL+"/api/v1/categories/nope", http.StatusNotFound, nil)
}

func TestComposeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var resp models.ComposeResponse
	postJSON(t, srv.URL+"/api/v1/compose", models.ComposeRequest{Text: "@cyberpunk in the forest"}, http.StatusOK, &resp)
	if resp.Recipe == nil {
		t.Fatal("no recipe returned")
	}
	if len(resp.Recipe.SourceCategories) != 2 {
		t.Errorf("got categories %v", resp.Recipe.SourceCategories)
	}
	if len(resp.Explanation.Steps) == 0 {
		t.Error("explanation has no steps")
	}

	// dry_run omits the recipe but keeps the explanation.
	postJSON(t, srv.URL+"/api/v1/compose", models.ComposeRequest{Text: "@cyberpunk", DryRun: true}, http.StatusOK, &resp)
	if resp.Recipe != nil {
		t.Error("dry run should omit the recipe")
	}
	if len(resp.Explanation.FinalCategories) != 1 {
		t.Errorf("dry run explanation wrong: %+v", resp.Explanation)
	}
}

func TestComposeSuggestsNearMisses(t *testing.T) {
	srv, _ := newTestServer(t)

	var resp models.ComposeResponse
	postJSON(t, srv.URL+"/api/v1/compose", models.ComposeRequest{Text: "@cyberpnk"}, http.StatusUnprocessableEntity, &resp)
	found := false
	for _, s := range resp.Explanation.Suggestions {
		if s == "cyberpunk" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected cyberpunk suggestion, got %v", resp.Explanation.Suggestions)
	}
}

func TestGenerateLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	var view models.JobView
	postJSON(t, srv.URL+"/api/v1/generate", models.GenerateRequest{Categories: []string{"cyberpunk"}}, http.StatusAccepted, &view)
	if view.ID == "" || view.State != models.JobQueued {
		t.Fatalf("bad initial view: %+v", view)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		getJSON(t, srv.URL+"/api/v1/generate/"+view.ID, http.StatusOK, &view)
		if view.State == models.JobCompleted {
			break
		}
		if view.State == models.JobFailed {
			t.Fatalf("job failed: %s", view.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", view.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if view.ArtifactURL == "" {
		t.Error("completed job missing artifact url")
	}

	// Artifact bytes are served under /artifacts/.
	path := strings.TrimPrefix(view.ArtifactURL, "http://api.local")
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("fetch artifact: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("artifact fetch status %d", resp.StatusCode)
	}

	getJSON(t, srv.URL+"/api/v1/generate/unknown", http.StatusNotFound, nil)
}

func TestCancelGeneration(t *testing.T) {
	srv, _ := newTestServer(t)

	var view models.JobView
	postJSON(t, srv.URL+"/api/v1/generate", models.GenerateRequest{Categories: []string{"cyberpunk"}}, http.StatusAccepted, &view)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/generate/"+view.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel status %d", resp.StatusCode)
	}
	getJSON(t, srv.URL+"/api/v1/generate/"+view.ID, http.StatusNotFound, nil)
}

func TestRunsRateAndTop(t *testing.T) {
	srv, tracker := newTestServer(t)

	runID, err := tracker.Record(t.Context(), &models.Recipe{
		ID:               "r1",
		SourceCategories: []string{"cyberpunk"},
		Workflow:         "flux-dev.json",
	}, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	postJSON(t, srv.URL+"/api/v1/runs/"+runID+"/rate", map[string]interface{}{"rating": 5, "feedback": "great"}, http.StatusOK, nil)
	postJSON(t, srv.URL+"/api/v1/runs/"+runID+"/rate", map[string]interface{}{"rating": 9}, http.StatusBadRequest, nil)
	postJSON(t, srv.URL+"/api/v1/runs/"+runID+"/favorite", nil, http.StatusOK, nil)

	var top []map[string]interface{}
	getJSON(t, srv.URL+"/api/v1/runs/top?min_rating=4", http.StatusOK, &top)
	if len(top) != 1 {
		t.Fatalf("got %d top runs, want 1", len(top))
	}

	getJSON(t, srv.URL+"/api/v1/runs/top?min_rating=4&category=cyber", http.StatusOK, &top)
	if len(top) != 1 {
		t.Fatalf("got %d top runs for category cyber, want 1", len(top))
	}
	getJSON(t, srv.URL+"/api/v1/runs/top?min_rating=4&category=forest", http.StatusOK, &top)
	if len(top) != 0 {
		t.Fatalf("got %d top runs for category forest, want 0", len(top))
	}
}

func TestRunRecipeWithRecompose(t *testing.T) {
	srv, tracker := newTestServer(t)

	rec := &models.Recipe{
		ID:               "r1",
		SourceCategories: []string{"cyberpunk"},
		PositivePrompt:   "neon-lit streets",
		Steps:            12,
		CFG:              5,
		Width:            512,
		Height:           512,
		Workflow:         "flux-dev.json",
	}
	runID, err := tracker.Record(t.Context(), rec, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var resp struct {
		Recipe     *models.Recipe      `json:"recipe"`
		Drift      *models.DriftReport `json:"drift"`
		Recomposed *models.Recipe      `json:"recomposed"`
	}
	getJSON(t, srv.URL+"/api/v1/runs/"+runID+"/recipe?recompose=true&keep_settings=true", http.StatusOK, &resp)
	if resp.Recipe == nil || resp.Recipe.ID != "r1" {
		t.Fatalf("stored recipe wrong: %+v", resp.Recipe)
	}
	if resp.Drift == nil || resp.Drift.Drifted {
		t.Errorf("unexpected drift: %+v", resp.Drift)
	}
	if resp.Recomposed == nil {
		t.Fatal("no recomposed recipe")
	}
	if resp.Recomposed.Steps != 12 || resp.Recomposed.Width != 512 {
		t.Errorf("keep_settings not applied: %+v", resp.Recomposed)
	}
}

func TestRunRecipeRecomposeNewCategories(t *testing.T) {
	srv, tracker := newTestServer(t)

	runID, err := tracker.Record(t.Context(), &models.Recipe{
		ID:               "r1",
		SourceCategories: []string{"cyberpunk"},
		Workflow:         "flux-dev.json",
	}, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var resp struct {
		Recomposed *models.Recipe `json:"recomposed"`
	}
	getJSON(t, srv.URL+"/api/v1/runs/"+runID+"/recipe?recompose=true&categories=forest", http.StatusOK, &resp)
	if resp.Recomposed == nil {
		t.Fatal("no recomposed recipe")
	}
	if len(resp.Recomposed.SourceCategories) != 1 || resp.Recomposed.SourceCategories[0] != "forest" {
		t.Errorf("recomposed against %v, want the requested categories", resp.Recomposed.SourceCategories)
	}
	if !strings.Contains(resp.Recomposed.PositivePrompt, "ancient forest") {
		t.Errorf("prompt %q does not reflect the new category", resp.Recomposed.PositivePrompt)
	}

	getJSON(t, srv.URL+"/api/v1/runs/"+runID+"/recipe?recompose=true&categories=nosuch", http.StatusUnprocessableEntity, nil)
}

func TestWatchGenerationStream(t *testing.T) {
	srv, _ := newTestServer(t)

	var view models.JobView
	postJSON(t, srv.URL+"/api/v1/generate", models.GenerateRequest{Categories: []string{"cyberpunk"}}, http.StatusAccepted, &view)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/generate/" + view.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sawPong := false
	sawComplete := false
	for !sawComplete {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if string(msg) == "pong" {
			sawPong = true
			continue
		}
		var frame progress.Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("bad frame %q: %v", msg, err)
		}
		if frame.Type == progress.TypeExecuting && frame.Message == "Execution complete" {
			sawComplete = true
		}
	}
	if !sawPong {
		t.Error("no pong reply to ping")
	}
	if !sawComplete {
		t.Error("stream ended without the completion frame")
	}
}

func TestWatchGenerationUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/generate/unknown"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), "job not found") {
		t.Errorf("got %q", msg)
	}
}
