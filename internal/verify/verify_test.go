package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockRecorder struct {
	mu     sync.Mutex
	id     uuid.UUID
	passed bool
	score  float64
	calls  int
}

func (m *mockRecorder) MarkVerified(_ context.Context, id uuid.UUID, passed bool, score float64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	m.passed = passed
	m.score = score
	m.calls++
	return nil
}

func verifierStub(t *testing.T, result Result) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.AccountID == "" || req.Email == "" {
			t.Error("request missing account_id or email")
		}
		_ = json.NewEncoder(w).Encode(result)
	}))
}

func TestCheck_PassRecorded(t *testing.T) {
	srv := verifierStub(t, Result{Passed: true, Score: 0.93})
	defer srv.Close()

	rec := &mockRecorder{}
	c := NewClient(srv.URL, rec)

	accountID := uuid.New()
	got, err := c.Check(context.Background(), accountID, "pat@example.com", "Pat Doe")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !got.Passed || got.Score != 0.93 {
		t.Fatalf("result = %+v, want passed with score 0.93", got)
	}
	if rec.calls != 1 || rec.id != accountID || !rec.passed || rec.score != 0.93 {
		t.Fatalf("recorded = %+v, want the verifier verdict on the account", rec)
	}
}

func TestCheck_FailureStillRecorded(t *testing.T) {
	srv := verifierStub(t, Result{Passed: false, Score: 0.41})
	defer srv.Close()

	rec := &mockRecorder{}
	c := NewClient(srv.URL, rec)

	got, err := c.Check(context.Background(), uuid.New(), "pat@example.com", "Pat Doe")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got.Passed {
		t.Fatal("expected a failed verdict")
	}
	if rec.calls != 1 || rec.passed {
		t.Fatalf("recorded = %+v, want the failure recorded with its score", rec)
	}
}

func TestCheck_VerifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &mockRecorder{}
	c := NewClient(srv.URL, rec)

	if _, err := c.Check(context.Background(), uuid.New(), "pat@example.com", "Pat Doe"); err == nil {
		t.Fatal("expected error on verifier 500")
	}
	if rec.calls != 0 {
		t.Fatal("no verdict should be recorded when the verifier fails")
	}
}
