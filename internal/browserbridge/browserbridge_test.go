package browserbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewPageGotoContentClose(t *testing.T) {
	var gotPageID string
	mux := http.NewServeMux()
	mux.HandleFunc("/pages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"page_id": "p1"})
	})
	mux.HandleFunc("/pages/p1/goto", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["url"] != "https://example.com" {
			t.Errorf("unexpected goto body: %v", body)
		}
		gotPageID = "p1"
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/pages/p1/content", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"html": "<html></html>"})
	})
	mux.HandleFunc("/pages/p1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	driver := New(srv.URL)
	p, err := driver.NewPage(context.Background(), 1280, 720)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if err := p.Goto(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Goto: %v", err)
	}
	if gotPageID != "p1" {
		t.Fatal("expected goto to hit the created page")
	}
	html, err := p.Content(context.Background())
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if html != "<html></html>" {
		t.Fatalf("Content = %q", html)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEvaluateReturnsResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"page_id": "p1"})
	})
	mux.HandleFunc("/pages/p1/evaluate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	driver := New(srv.URL)
	p, _ := driver.NewPage(context.Background(), 1280, 720)
	result, err := p.Evaluate(context.Background(), "1+1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result != true {
		t.Fatalf("Evaluate result = %v, want true", result)
	}
}

func TestNonOKStatusReturnsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	driver := New(srv.URL)
	if _, err := driver.NewPage(context.Background(), 1280, 720); err == nil {
		t.Fatal("expected an error for a non-2xx bridge response")
	}
}
