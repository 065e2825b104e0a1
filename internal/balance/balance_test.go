package balance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opentranslator/client/internal/apperrors"
	"github.com/opentranslator/client/internal/httpclient"
)

type tierBehavior struct {
	meStatus    int
	meBody      string
	debugStatus int
	debugBody   string
	pubStatus   int
	pubBody     string
}

func newTierServer(t *testing.T, b tierBehavior) (*httptest.Server, *map[string]int) {
	t.Helper()
	calls := map[string]int{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls[r.URL.Path]++
		switch r.URL.Path {
		case "/balance/me/balance":
			w.WriteHeader(b.meStatus)
			w.Write([]byte(b.meBody))
		case "/balance/debug/balance":
			w.WriteHeader(b.debugStatus)
			w.Write([]byte(b.debugBody))
		case "/balance/public/balance":
			w.WriteHeader(b.pubStatus)
			w.Write([]byte(b.pubBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestGetBalance_AuthenticatedTier(t *testing.T) {
	server, calls := newTierServer(t, tierBehavior{
		meStatus: 200, meBody: `{"pagesBalance":60,"pagesUsed":12,"lastUsed":"2026-08-29T10:00:00Z","userId":"u-41"}`,
	})

	svc := NewService(httpclient.New(server.URL, 2*time.Second), nil)
	snap, err := svc.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Source != "me" {
		t.Errorf("expected the authenticated tier, got %q", snap.Source)
	}
	if snap.Remaining() != 48 {
		t.Errorf("expected 48 remaining, got %d", snap.Remaining())
	}
	if snap.UserID != "u-41" || snap.LastUsed == "" {
		t.Errorf("expected userId and lastUsed carried through, got %+v", snap)
	}
	if (*calls)["/balance/debug/balance"] != 0 || (*calls)["/balance/public/balance"] != 0 {
		t.Error("lower tiers must not be called when the first succeeds")
	}
}

func TestGetBalance_DebugTierWhenAuthenticated(t *testing.T) {
	server, _ := newTierServer(t, tierBehavior{
		meStatus:    500,
		meBody:      `{"message":"db down"}`,
		debugStatus: 200,
		debugBody:   `{"authenticated":true,"anonymous":false,"balance":{"pagesBalance":30,"pagesUsed":5}}`,
	})

	svc := NewService(httpclient.New(server.URL, 2*time.Second), nil)
	snap, err := svc.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Source != "debug" {
		t.Errorf("expected the diagnostic tier, got %q", snap.Source)
	}
	if snap.Remaining() != 25 {
		t.Errorf("expected 25 remaining, got %d", snap.Remaining())
	}
}

func TestGetBalance_SkipsDebugForAnonymousSession(t *testing.T) {
	// The authenticated endpoint rejects with 401 and the diagnostic
	// endpoint reports an unauthenticated session, so the read must fall
	// through to the public payload.
	server, calls := newTierServer(t, tierBehavior{
		meStatus:    401,
		meBody:      `{"message":"no token"}`,
		debugStatus: 200,
		debugBody:   `{"authenticated":false,"anonymous":true,"balance":{"pagesBalance":999}}`,
		pubStatus:   200,
		pubBody:     `{"pagesBalance":10,"pagesUsed":0}`,
	})

	svc := NewService(httpclient.New(server.URL, 2*time.Second), nil)
	snap, err := svc.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Source != "public" {
		t.Errorf("expected the public tier, got %q", snap.Source)
	}
	if snap.PagesBalance != 10 {
		t.Errorf("expected the public payload, got %+v", snap)
	}
	if (*calls)["/balance/public/balance"] != 1 {
		t.Errorf("expected one public call, got %d", (*calls)["/balance/public/balance"])
	}
}

func TestGetBalance_DecodesWireFieldNames(t *testing.T) {
	// The backend emits pagesBalance/pagesUsed/lastUsed/userId; a snapshot
	// read through the authenticated tier must reflect exactly those keys.
	server, _ := newTierServer(t, tierBehavior{
		meStatus: 200, meBody: `{"pagesBalance":42,"pagesUsed":7,"lastUsed":"2026-08-30T08:15:00Z","userId":"u-7"}`,
	})

	svc := NewService(httpclient.New(server.URL, 2*time.Second), nil)
	snap, err := svc.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.PagesBalance != 42 || snap.PagesUsed != 7 {
		t.Errorf("wire fields not decoded, got %+v", snap)
	}
	if snap.Remaining() != 35 {
		t.Errorf("expected 35 remaining, got %d", snap.Remaining())
	}
	if snap.LastUsed != "2026-08-30T08:15:00Z" || snap.UserID != "u-7" {
		t.Errorf("lastUsed/userId dropped, got %+v", snap)
	}
}

func TestGetBalance_DefaultOnTotalFailure(t *testing.T) {
	svc := NewService(httpclient.New("http://127.0.0.1:1", 300*time.Millisecond), nil)
	snap, err := svc.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("total failure must not surface an error, got %v", err)
	}
	if snap.Source != "default" {
		t.Errorf("expected the default snapshot, got %q", snap.Source)
	}
	if snap.PagesBalance != 10 || snap.PagesUsed != 0 {
		t.Errorf("unexpected default snapshot %+v", snap)
	}
}

func TestGetBalance_AuthRetryOnMe(t *testing.T) {
	attempts := 0
	refreshes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/balance/me/balance" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"pagesBalance":10,"pagesUsed":3}`))
	}))
	defer server.Close()

	refresh := func(ctx context.Context) error {
		refreshes++
		return nil
	}
	svc := NewService(httpclient.New(server.URL, 2*time.Second), refresh)
	snap, err := svc.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Source != "me" || snap.PagesUsed != 3 {
		t.Errorf("expected the refreshed authenticated read, got %+v", snap)
	}
	if attempts != 2 || refreshes != 1 {
		t.Errorf("expected 2 attempts and 1 refresh, got %d and %d", attempts, refreshes)
	}
}

func TestAddPages(t *testing.T) {
	var gotBody map[string]int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/balance/add-pages" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"pagesBalance":35,"pagesUsed":0}`))
	}))
	defer server.Close()

	svc := NewService(httpclient.New(server.URL, 2*time.Second), nil)
	snap, err := svc.AddPages(context.Background(), 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["pages"] != 25 {
		t.Errorf("expected pages=25 in the body, got %v", gotBody)
	}
	if snap.PagesBalance != 35 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	if _, err := svc.AddPages(context.Background(), 0); err == nil {
		t.Error("expected a validation error for zero pages")
	}
}

func TestPurchasePages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/balance/purchase/pages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "billing@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"payment":{"orderId":"ord-77","pages":100,"amount":49.9,"bankAccount":"DE00 1234"}}`))
	}))
	defer server.Close()

	svc := NewService(httpclient.New(server.URL, 2*time.Second), nil)
	payment, err := svc.PurchasePages(context.Background(), 100, "billing@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.OrderID != "ord-77" || payment.Pages != 100 || payment.BankAccount == "" {
		t.Errorf("unexpected payment %+v", payment)
	}

	if _, err := svc.PurchasePages(context.Background(), 10, ""); err == nil {
		t.Error("expected a validation error for a missing email")
	}
	var appErr *apperrors.AppError
	_, err = svc.PurchasePages(context.Background(), 0, "x@y.z")
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeValidationError {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}
