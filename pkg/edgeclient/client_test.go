package edgeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		RetryCount: 2,
		RetryDelay: time.Millisecond,
		RateLimit:  6000,
		RateBurst:  100,
	})
}

func TestCreateTargetGroup(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/target-groups" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %s", got)
		}
		var req CreateTargetGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(TargetGroup{
			ID:   "tg-1",
			Name: req.Name,
			Port: req.Port,
		})
	}))

	tg, err := client.CreateTargetGroup(context.Background(), CreateTargetGroupRequest{
		Name: "preview-pr-1-api",
		Port: 8080,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tg.ID != "tg-1" {
		t.Errorf("expected id tg-1, got %s", tg.ID)
	}
}

func TestCreateRule_ConflictSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(APIError{Code: "priority_taken", Message: "priority 7 already in use"})
	}))

	_, err := client.CreateRule(context.Background(), CreateRuleRequest{
		ListenerName:  "preview-listener",
		Priority:      7,
		TargetGroupID: "tg-1",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsNotFound(err) {
		t.Fatal("conflict must not look like not-found")
	}
}

func TestDeleteRule_NotFoundIsSuccess(t *testing.T) {
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(APIError{Message: "no such rule"})
	}))

	if err := client.DeleteRule(context.Background(), "preview-listener", "rule-gone"); err != nil {
		t.Fatalf("expected nil for missing rule, got %v", err)
	}
	if calls != 1 {
		t.Errorf("404 must not be retried, got %d calls", calls)
	}
}

func TestDoRequest_CancelledContextNeverSendsRequest(t *testing.T) {
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.CreateTargetGroup(ctx, CreateTargetGroupRequest{Name: "preview-pr-1-api", Port: 8080})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if calls != 0 {
		t.Errorf("request must not be sent after cancellation, got %d calls", calls)
	}
}

func TestDeleteTargetGroup_RetriesTransientFailure(t *testing.T) {
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.DeleteTargetGroup(context.Background(), "tg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}
