package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaCompleteWithSystem(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s, want /api/generate", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "Once upon a time."})
	}))
	defer srv.Close()

	c, err := NewOllamaClient(srv.URL, "llama3", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.CompleteWithSystem(context.Background(), "be brief", "tell a story")
	if err != nil {
		t.Fatalf("CompleteWithSystem failed: %v", err)
	}
	if out != "Once upon a time." {
		t.Errorf("completion = %q", out)
	}
	if got.Model != "llama3" || got.System != "be brief" || got.Prompt != "tell a story" {
		t.Errorf("request = %+v", got)
	}
	if got.Stream {
		t.Error("streaming must be disabled")
	}
}

func TestOllamaEmptyCompletionIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaGenerateResponse{})
	}))
	defer srv.Close()

	c, err := NewOllamaClient(srv.URL, "llama3", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("empty completion must be an error")
	}
}

func TestOllamaServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewOllamaClient(srv.URL, "missing", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("non-200 status must be an error")
	}
}

func TestNewOllamaClientRequiresModel(t *testing.T) {
	if _, err := NewOllamaClient("", "", time.Second); err == nil {
		t.Fatal("missing model must be rejected")
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	if _, err := NewClient("watsonx", "", "", "", 0); err == nil {
		t.Fatal("unknown provider must be rejected")
	}
}
