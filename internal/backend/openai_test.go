package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func localTarget(url string) Target {
	return Target{
		Name:     "local",
		Kind:     KindLocalInference,
		Endpoint: url + "/v1",
		Model:    "gemma-3-12b",
	}
}

func TestLocalInferenceInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "what time is it" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "tea time"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	inv := newLocalInference(localTarget(srv.URL), time.Minute, []string{"@alice:s"})
	got, err := inv.Invoke(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "tea time" {
		t.Errorf("Invoke = %q, want tea time", got)
	}
}

func TestLocalInferenceProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "quota exceeded", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	inv := newLocalInference(localTarget(srv.URL), time.Minute, nil)
	_, err := inv.Invoke(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}

	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if berr.Kind != ErrProvider {
		t.Errorf("Kind = %q, want %q", berr.Kind, ErrProvider)
	}
}

func TestLocalInferenceEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	inv := newLocalInference(localTarget(srv.URL), time.Minute, nil)
	_, err := inv.Invoke(context.Background(), "hi")

	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != ErrBadResponse {
		t.Fatalf("got %v, want bad_response error", err)
	}
}

func TestLocalInferenceTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	inv := newLocalInference(localTarget(srv.URL), 50*time.Millisecond, nil)
	_, err := inv.Invoke(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected timeout error")
	}

	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != ErrTimeout {
		t.Fatalf("got %v, want timeout error", err)
	}
}
