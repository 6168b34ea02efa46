package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"ramp/internal/batch"
	"ramp/internal/queue"
	"ramp/internal/status"
)

func newTestServer(t *testing.T) (*Server, *queue.Store) {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	coord := batch.NewCoordinator(store, nil)
	server := NewServer(store, coord, status.NewService(store), nil, Options{
		Bind:            "127.0.0.1:0",
		DefaultLanguage: "en",
	})
	return server, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	rec, body := doJSON(t, server.Handler(), http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestContentIngestAndStatus(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec, body := doJSON(t, handler, http.MethodPost, "/api/content/ingest",
		`{"kind":"video","source_url":"https://cdn.example.com/lecture.mp4"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ingest code = %d, body %v", rec.Code, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("missing id in %v", body)
	}
	if body["language"] != "en" {
		t.Fatalf("default language not applied: %v", body["language"])
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/content/status/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if body["state"] != "ingested" {
		t.Fatalf("state = %v", body["state"])
	}
}

func TestContentIngestRejectsBadPayload(t *testing.T) {
	server, _ := newTestServer(t)
	rec, _ := doJSON(t, server.Handler(), http.MethodPost, "/api/content/ingest",
		`{"kind":"hologram","source_url":"https://cdn.example.com/x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestContentStatusUnknownID(t *testing.T) {
	server, _ := newTestServer(t)
	rec, _ := doJSON(t, server.Handler(), http.MethodGet,
		"/api/content/status/ffffffff-0000-0000-0000-000000000000", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestContentCancelSemantics(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	item, err := store.CreateItem(context.Background(), queue.NewItem{
		Kind:      queue.KindImage,
		SourceURL: "https://cdn.example.com/figure.png",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	rec, body := doJSON(t, handler, http.MethodPost, "/api/content/"+item.ID+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel code = %d, body %v", rec.Code, body)
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/content/"+item.ID+"/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel code = %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPost,
		"/api/content/ffffffff-0000-0000-0000-000000000000/cancel", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown cancel code = %d", rec.Code)
	}
}

func TestReviewResolve(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	item, err := store.CreateItem(context.Background(), queue.NewItem{
		Kind:      queue.KindImage,
		SourceURL: "https://cdn.example.com/figure.png",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	expected := item.Snapshot()
	item.State = queue.StateReview
	item.ErrorMessage = "alt text unusable"
	if err := store.CompareAndSwapItem(context.Background(), item, expected); err != nil {
		t.Fatalf("CompareAndSwapItem: %v", err)
	}

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/content/"+item.ID+"/review/resolve",
		`{"resolution":"cancelled"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad resolution code = %d", rec.Code)
	}

	rec, body := doJSON(t, handler, http.MethodPost, "/api/content/"+item.ID+"/review/resolve",
		`{"resolution":"completed","note":"captions written by hand"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve code = %d, body %v", rec.Code, body)
	}
	if body["state"] != "completed" {
		t.Fatalf("state = %v", body["state"])
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/content/"+item.ID+"/review/resolve",
		`{"resolution":"failed"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double resolve code = %d", rec.Code)
	}
}

func TestArchiveLifecycle(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec, body := doJSON(t, handler, http.MethodPost, "/api/archives/ingest", `{
        "items": [
            {"kind": "image", "source_url": "https://a.example.com/1.png"},
            {"kind": "audio", "source_url": "https://a.example.com/talk.mp3"}
        ],
        "standards": ["WCAG2.2-AA"]
    }`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ingest code = %d, body %v", rec.Code, body)
	}
	batchID, _ := body["id"].(string)
	if batchID == "" {
		t.Fatalf("missing batch id in %v", body)
	}
	if body["total"] != float64(2) {
		t.Fatalf("total = %v", body["total"])
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/archives/status/"+batchID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if body["percent_complete"] != float64(0) {
		t.Fatalf("percent = %v", body["percent_complete"])
	}

	rec, body = doJSON(t, handler, http.MethodPost, "/api/archives/"+batchID+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel code = %d, body %v", rec.Code, body)
	}
	if body["children_cancelled"] != float64(2) {
		t.Fatalf("children cancelled = %v", body["children_cancelled"])
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/archives/status/"+batchID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status after cancel code = %d", rec.Code)
	}
	if body["state"] != "cancelled" {
		t.Fatalf("state = %v", body["state"])
	}
	if body["percent_complete"] != float64(100) {
		t.Fatalf("percent after cancel = %v", body["percent_complete"])
	}
}

func TestArchiveIngestRejectsBadManifest(t *testing.T) {
	server, _ := newTestServer(t)
	rec, _ := doJSON(t, server.Handler(), http.MethodPost, "/api/archives/ingest",
		`{"standards": ["WCAG2.2-AA"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}
