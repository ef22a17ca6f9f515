package walletkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestListToolsSendsBearerToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tools" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		_ = json.NewEncoder(w).Encode([]Tool{{Name: "approve"}, {Name: "transfer"}})
	}))
	client.SetAccessToken(" s3cret ")

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "approve" {
		t.Fatalf("unexpected tools %+v", tools)
	}
}

func TestInvokeToolPostsArguments(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tools/native_transfer/invoke" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Fatal("no token configured, header must be absent")
		}
		var body struct {
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Arguments["amount"] != "42" {
			t.Fatalf("unexpected arguments %v", body.Arguments)
		}
		_ = json.NewEncoder(w).Encode(ToolResult{Tool: "native_transfer", Status: "success", Output: "ok", TransactionHash: "0xabc"})
	}))

	result, err := client.InvokeTool(context.Background(), "native_transfer", map[string]any{"amount": "42"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !result.OK() || result.TransactionHash != "0xabc" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{name: "envelope", status: http.StatusNotFound, body: `{"error":{"code":"ACTION_NOT_FOUND","message":"action \"swap\" is not available"}}`, wantCode: "ACTION_NOT_FOUND", wantMsg: `action "swap" is not available`},
		{name: "flat", status: http.StatusBadRequest, body: `{"code":"INVALID_ARGUMENT","message":"bad"}`, wantCode: "INVALID_ARGUMENT", wantMsg: "bad"},
		{name: "plain text", status: http.StatusUnauthorized, body: "Unauthorized\n", wantMsg: "Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := client.InvokeTool(context.Background(), "swap", nil)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Fatalf("unexpected error %+v", apiErr)
			}
			if IsNotFound(err) != (tt.status == http.StatusNotFound) {
				t.Fatalf("IsNotFound mismatch for %d", tt.status)
			}
		})
	}
}

func TestSubmitAndWaitInvocation(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/invocations", func(w http.ResponseWriter, r *http.Request) {
		var req InvocationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.ID != "order-1" || req.Tool != "transfer" {
			t.Fatalf("unexpected request %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Invocation{ID: req.ID, Tool: req.Tool, Status: "pending"})
	})
	mux.HandleFunc("GET /api/v1/invocations/order-1", func(w http.ResponseWriter, _ *http.Request) {
		status := "running"
		if polls.Add(1) >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Invocation{ID: "order-1", Status: status, Outcome: "success"})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	inv, err := client.SubmitInvocation(ctx, InvocationRequest{ID: "order-1", Tool: "transfer"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if inv.Status != "pending" {
		t.Fatalf("unexpected record %+v", inv)
	}

	done, err := client.WaitInvocation(ctx, "order-1", time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != "succeeded" || polls.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d polls", done, polls.Load())
	}
}

func TestWaitInvocationHonoursContext(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Invocation{ID: "slow", Status: "running"})
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.WaitInvocation(ctx, "slow", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestListInvocationsQuery(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "failed,running" || q.Get("tool") != "approve" || q.Get("limit") != "5" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Invocation{{ID: "a"}})
	}))
	out, err := client.ListInvocations(context.Background(), ListFilter{Limit: 5, Statuses: []string{"failed", "running"}, Tool: "approve"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("unexpected records %+v", out)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("not a url", nil); err == nil {
		t.Fatal("expected error for relative url")
	}
}
