package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGetSettlement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settlements/32" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		// Numeric participant IDs and netAmount, the hub's native form.
		w.Write([]byte(`{
			"id": 32,
			"state": "PS_TRANSFERS_RECORDED",
			"participants": [
				{"id": 6, "netAmount": -50000, "currency": "XOF", "state": "PENDING_SETTLEMENT"},
				{"id": 7, "netAmount": 50000.25, "currency": "XOF", "state": "PENDING_SETTLEMENT"}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{})
	cycle, err := client.GetSettlement(context.Background(), "32")
	if err != nil {
		t.Fatalf("GetSettlement failed: %v", err)
	}

	if cycle.ID != "32" {
		t.Errorf("ID = %q, want 32", cycle.ID)
	}
	if string(cycle.State) != "PS_TRANSFERS_RECORDED" {
		t.Errorf("State = %s, want PS_TRANSFERS_RECORDED", cycle.State)
	}
	if len(cycle.Participants) != 2 {
		t.Fatalf("Expected 2 positions, got %d", len(cycle.Participants))
	}
	if cycle.Participants[0].AccountID != "6" {
		t.Errorf("AccountID = %q, want numeric id normalized to string", cycle.Participants[0].AccountID)
	}
	if !cycle.Participants[0].NetAmount.Equal(decimal.NewFromInt(-50000)) {
		t.Errorf("NetAmount = %s, want -50000", cycle.Participants[0].NetAmount)
	}
	if !cycle.Participants[1].NetAmount.Equal(decimal.RequireFromString("50000.25")) {
		t.Errorf("NetAmount = %s, want 50000.25", cycle.Participants[1].NetAmount)
	}
}

func TestGetSettlementLegacyDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// No top-level id, positions under participantSettlements,
		// keyed by participantId as a string.
		w.Write([]byte(`{
			"state": "PS_TRANSFERS_COMMITTED",
			"participantSettlements": [
				{"participantId": "9", "netAmount": "1200.50", "currency": "EUR"}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{})
	cycle, err := client.GetSettlement(context.Background(), "legacy-7")
	if err != nil {
		t.Fatalf("GetSettlement failed: %v", err)
	}

	if cycle.ID != "legacy-7" {
		t.Errorf("ID = %q, want requested ID as fallback", cycle.ID)
	}
	if len(cycle.Participants) != 1 {
		t.Fatalf("Expected 1 position, got %d", len(cycle.Participants))
	}
	if cycle.Participants[0].AccountID != "9" {
		t.Errorf("AccountID = %q, want 9", cycle.Participants[0].AccountID)
	}
	if !cycle.Participants[0].NetAmount.Equal(decimal.RequireFromString("1200.50")) {
		t.Errorf("NetAmount = %s, want 1200.50", cycle.Participants[0].NetAmount)
	}
}

func TestGetSettlementNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{})
	_, err := client.GetSettlement(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGetSettlementServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{})
	_, err := client.GetSettlement(context.Background(), "32")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable for 502, got %v", err)
	}
}

func TestGetSettlementUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	client := NewClient(server.URL, Options{})
	_, err := client.GetSettlement(context.Background(), "32")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable for connection failure, got %v", err)
	}
}

func TestGetSettlementTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{Timeout: 20 * time.Millisecond})
	_, err := client.GetSettlement(context.Background(), "32")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable for timeout, got %v", err)
	}
}

func TestMarkParticipantSettled(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{})
	if err := client.MarkParticipantSettled(context.Background(), "32", "6"); err != nil {
		t.Fatalf("MarkParticipantSettled failed: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("Method = %s, want PUT", gotMethod)
	}
	if gotPath != "/settlements/32/participants/6" {
		t.Errorf("Path = %s, want /settlements/32/participants/6", gotPath)
	}
	if gotBody["state"] != "SETTLED" {
		t.Errorf("Body state = %q, want SETTLED", gotBody["state"])
	}
}

func TestCloseCycle(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{})
	if err := client.CloseCycle(context.Background(), "32"); err != nil {
		t.Fatalf("CloseCycle failed: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("Method = %s, want PUT", gotMethod)
	}
	if gotPath != "/settlements/32" {
		t.Errorf("Path = %s, want /settlements/32", gotPath)
	}
	if gotBody["state"] != "SETTLED" {
		t.Errorf("Body state = %q, want SETTLED", gotBody["state"])
	}
}

func TestClientObserver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var ops []string
	var codes []int
	client := NewClient(server.URL, Options{
		Observe: func(op string, status int, d time.Duration) {
			ops = append(ops, op)
			codes = append(codes, status)
		},
	})

	client.GetSettlement(context.Background(), "32")
	client.CloseCycle(context.Background(), "32")

	if len(ops) != 2 || ops[0] != OpGetSettlement || ops[1] != OpCloseCycle {
		t.Errorf("Observed ops = %v, want [%s %s]", ops, OpGetSettlement, OpCloseCycle)
	}
	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("Observed code[%d] = %d, want 200", i, code)
		}
	}
}

func TestCloseCycleRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{})
	err := client.CloseCycle(context.Background(), "32")
	if err == nil {
		t.Fatal("Expected error for rejected transition")
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) {
		t.Errorf("A 409 is neither unavailable nor not-found, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusConflict || statusErr.Op != OpCloseCycle {
		t.Errorf("Expected {close_cycle 409}, got %+v", statusErr)
	}
}
