package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(handler http.Handler) (*Client, func()) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL+"/api", "/health", 5*time.Second), srv.Close
}

func TestCreateDecodesServerRecord(t *testing.T) {
	client, done := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/leads" {
			t.Errorf("got %s %s, want POST /api/leads", r.Method, r.URL.Path)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["name"] != "Acme" {
			t.Errorf("payload name = %v, want Acme", payload["name"])
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "srv-1", "name": "Acme"})
	}))
	defer done()

	server, err := client.Create(context.Background(), "leads", map[string]any{"name": "Acme"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if server["id"] != "srv-1" {
		t.Errorf("server id = %v, want srv-1", server["id"])
	}
}

func TestUpdateConflict(t *testing.T) {
	client, done := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "d1", "amount": 500})
	}))
	defer done()

	_, err := client.Update(context.Background(), "deals", "d1", map[string]any{"amount": 300})
	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("error = %v, want ConflictError", err)
	}
	if conflictErr.Server["amount"] != float64(500) {
		t.Errorf("server amount = %v, want 500", conflictErr.Server["amount"])
	}
	if conflictErr.Collection != "deals" || conflictErr.EntityID != "d1" {
		t.Errorf("conflict identity = %s/%s", conflictErr.Collection, conflictErr.EntityID)
	}
	if IsRetryable(err) {
		t.Error("conflicts must not be retried")
	}
}

func TestUpdateNotFound(t *testing.T) {
	client, done := testClient(http.NotFoundHandler())
	defer done()

	_, err := client.Update(context.Background(), "leads", "l1", map[string]any{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if IsRetryable(err) {
		t.Error("not-found must not be retried")
	}
}

func TestDeleteTreats404AsSuccess(t *testing.T) {
	client, done := testClient(http.NotFoundHandler())
	defer done()

	if err := client.Delete(context.Background(), "leads", "gone"); err != nil {
		t.Errorf("Delete() error = %v, want nil on 404", err)
	}
}

func TestDeleteSuccess(t *testing.T) {
	var gotPath string
	client, done := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer done()

	if err := client.Delete(context.Background(), "tasks", "t1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if gotPath != "DELETE /api/tasks/t1" {
		t.Errorf("request = %q, want DELETE /api/tasks/t1", gotPath)
	}
}

func TestClientErrorNotRetryable(t *testing.T) {
	client, done := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer done()

	_, err := client.Create(context.Background(), "leads", map[string]any{})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want RemoteError", err)
	}
	if remote.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", remote.Status)
	}
	if IsRetryable(err) {
		t.Error("4xx must not be retried")
	}
}

func TestServerErrorRetryable(t *testing.T) {
	client, done := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer done()

	_, err := client.Create(context.Background(), "leads", map[string]any{})
	if !IsRetryable(err) {
		t.Error("5xx must be retried")
	}
}

func TestTransportErrorRetryable(t *testing.T) {
	client := NewClient("http://127.0.0.1:0/api", "/health", time.Second)

	_, err := client.Create(context.Background(), "leads", map[string]any{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !IsRetryable(err) {
		t.Error("transport failures must be retried")
	}
}

func TestPing(t *testing.T) {
	var gotPath string
	client, done := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		// Even an unhappy status proves the network path is up.
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer done()

	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v, want nil for any HTTP response", err)
	}
	if gotPath != "/api/health" {
		t.Errorf("ping path = %q, want /api/health", gotPath)
	}

	offline := NewClient("http://127.0.0.1:0/api", "/health", time.Second)
	if err := offline.Ping(context.Background()); err == nil {
		t.Error("Ping() should fail when unreachable")
	}
}
