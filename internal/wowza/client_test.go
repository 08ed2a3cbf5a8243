package wowza

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client, server
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}
	if _, err := NewClient(Config{Token: "   "}); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired for blank token, got %v", err)
	}
}

func TestCreateShapesRequestAndProjectsResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v2.0/live_streams" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		var payload map[string]map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request payload: %v", err)
		}
		stream := payload["live_stream"]
		if stream["name"] != "cam-front" {
			t.Fatalf("expected stream name cam-front, got %v", stream["name"])
		}
		if stream["encoder"] != "other_rtmp" {
			t.Fatalf("expected encoder other_rtmp, got %v", stream["encoder"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"live_stream": map[string]any{
				"id":    "ls-1",
				"state": "stopped",
				"source_connection_information": map[string]any{
					"primary_server": "rtmp://origin.example.com",
					"stream_name":    "abc123",
					"username":       "encoder-user",
					"password":       "encoder-pass",
				},
			},
		})
	}))

	record, err := client.Create(context.Background(), "cam-front")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if record.ID != "ls-1" {
		t.Fatalf("expected stream id ls-1, got %q", record.ID)
	}
	if record.Username != "encoder-user" || record.Password != "encoder-pass" {
		t.Fatalf("unexpected credentials %q/%q", record.Username, record.Password)
	}
}

func TestInitializeToleratesMissingEmbedCode(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"live_stream": map[string]any{"id": "ls-1", "state": "stopped"},
		})
	}))

	record, err := client.Initialize(context.Background(), "ls-1")
	if err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if record.EmbedCode != "" {
		t.Fatalf("expected absent embed code, got %q", record.EmbedCode)
	}
	if record.Ready() {
		t.Fatal("record without embed code must not report ready")
	}
}

func TestRecordReadySentinel(t *testing.T) {
	if (Record{EmbedCode: EmbedCodeInProgress}).Ready() {
		t.Fatal("in_progress embed code must not report ready")
	}
	if !(Record{EmbedCode: "<script src=...>"}).Ready() {
		t.Fatal("populated embed code must report ready")
	}
}

func TestNon2xxSurfacesTransportError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"meta":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))

	_, err := client.Start(context.Background(), "ls-1")
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transportErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", transportErr.Status)
	}
	if transportErr.Op != "start" {
		t.Fatalf("expected op start, got %q", transportErr.Op)
	}
}

func TestUnparsableBodySurfacesTransportError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))

	_, err := client.Stop(context.Background(), "ls-1")
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestStateEndpointPath(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"live_stream": map[string]any{"state": "started"}})
	}))

	record, err := client.State(context.Background(), "ls-9")
	if err != nil {
		t.Fatalf("State returned error: %v", err)
	}
	if gotPath != "/api/v2.0/live_streams/ls-9/state" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if !record.Started() {
		t.Fatalf("expected started record, got state %q", record.State)
	}
}
