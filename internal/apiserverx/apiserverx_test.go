package apiserverx

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kamino-liq/liqengine/internal/domain"
)

type fakeQueue struct {
	plans []domain.FlashloanPlan
}

func (f fakeQueue) Sorted() []domain.FlashloanPlan { return f.plans }
func (f fakeQueue) Len() int                       { return len(f.plans) }

type fakeCandidates struct {
	items []domain.ScoredObligation
}

func (f fakeCandidates) GetScoredObligations(n int) []domain.ScoredObligation {
	if n > 0 && n < len(f.items) {
		return f.items[:n]
	}
	return f.items
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleHealth(t *testing.T) {
	svc := New(Config{}, discardLogger(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	svc.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body.OK {
		t.Fatal("expected ok=true")
	}
}

func TestHandleHealthRejectsNonGet(t *testing.T) {
	svc := New(Config{}, discardLogger(), nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	svc.handleHealth(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleQueueReturnsSortedPlans(t *testing.T) {
	queue := fakeQueue{plans: []domain.FlashloanPlan{{Key: "obl-1"}, {Key: "obl-2"}}}
	svc := New(Config{}, discardLogger(), queue, nil)

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	svc.handleQueue(rec, req)

	var body queueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 2 || len(body.Items) != 2 {
		t.Fatalf("expected 2 queued plans, got %+v", body)
	}
}

func TestHandleQueueNilQueueReturnsEmpty(t *testing.T) {
	svc := New(Config{}, discardLogger(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	svc.handleQueue(rec, req)

	var body queueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Items) != 0 {
		t.Fatalf("expected empty items, got %+v", body.Items)
	}
}

func TestHandleCandidatesRespectsLimit(t *testing.T) {
	cand := fakeCandidates{items: []domain.ScoredObligation{{ObligationPubkey: "a"}, {ObligationPubkey: "b"}, {ObligationPubkey: "c"}}}
	svc := New(Config{}, discardLogger(), nil, cand)

	req := httptest.NewRequest(http.MethodGet, "/candidates?limit=2", nil)
	rec := httptest.NewRecorder()
	svc.handleCandidates(rec, req)

	var body candidatesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Items) != 2 {
		t.Fatalf("expected 2 items with limit=2, got %d", len(body.Items))
	}
}

func TestHandleCandidatesRejectsInvalidLimit(t *testing.T) {
	svc := New(Config{}, discardLogger(), nil, fakeCandidates{})
	req := httptest.NewRequest(http.MethodGet, "/candidates?limit=notanumber", nil)
	rec := httptest.NewRecorder()
	svc.handleCandidates(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
