package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	modelpkg "github.com/stupiduntilnot/windowchat/internal/model"
)

func TestComplete_SendsRawPromptAndOptions(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(generateResponse{
			Model:           "jamba",
			Response:        " Hi there",
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       3,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "jamba", 5*time.Second)
	params := modelpkg.GenerationParams{MaxNewTokens: 512, Temperature: 0.7, TopP: 0.95, RepetitionPenalty: 1.15}
	resp, err := c.Complete(context.Background(), "Human: hi\nAssistant:", params)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != " Hi there" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Fatalf("unexpected usage %+v", resp)
	}
	if !got.Raw || got.Stream {
		t.Fatalf("expected raw non-streaming request, got %+v", got)
	}
	want := Options{NumPredict: 512, Temperature: 0.7, TopP: 0.95, RepeatPenalty: 1.15}
	if got.Options != want {
		t.Fatalf("options not forwarded: %+v", got.Options)
	}
}

func TestComplete_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "nope", 5*time.Second)
	_, err := c.Complete(context.Background(), "x", modelpkg.GenerationParams{})
	var cErr *ClientError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ClientError, got %v", err)
	}
	if cErr.Type != ErrTypeModelNotFound {
		t.Fatalf("unexpected type %v", cErr.Type)
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"out of memory"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", 5*time.Second)
	_, err := c.Complete(context.Background(), "x", modelpkg.GenerationParams{})
	if err == nil || err.Error() != "ollama non-success status=500: out of memory" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestComplete_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "m", time.Second)
	_, err := c.Complete(context.Background(), "x", modelpkg.GenerationParams{})
	var cErr *ClientError
	if !errors.As(err, &cErr) || cErr.Type != ErrTypeNotRunning {
		t.Fatalf("expected not-running error, got %v", err)
	}
}
