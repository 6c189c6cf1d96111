package speechclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/voices" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"voices":["en-IN","hi-IN"]}`))
	}))
	defer server.Close()

	voices, err := NewClient(server.URL, "").Voices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 || voices[1] != "hi-IN" {
		t.Fatalf("unexpected voices %v", voices)
	}
}

func TestSpeak(t *testing.T) {
	var got speakRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speak" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Internal-API-Key") != "key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if got.Language == "ta-IN" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key")
	if err := client.Speak(context.Background(), "careful", "hi-IN"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "careful" || got.Language != "hi-IN" {
		t.Fatalf("unexpected request body %+v", got)
	}

	if err := client.Speak(context.Background(), "careful", "ta-IN"); !errors.Is(err, ErrVoiceUnavailable) {
		t.Fatalf("expected ErrVoiceUnavailable, got %v", err)
	}
}

func TestSpeak_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := NewClient(server.URL, "").Speak(context.Background(), "x", "en-IN"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewClient("", "").Voices(context.Background()); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
