package document

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opentranslator/client/internal/apperrors"
	"github.com/opentranslator/client/internal/httpclient"
)

func newService(t *testing.T, handler http.Handler, refresh apperrors.RefreshFunc) (*Service, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	api := httpclient.New(server.URL, 5*time.Second)
	return NewService(api, NewMemoryStore(), refresh, ServiceConfig{
		StatusTimeout: 2 * time.Second,
		ResultTimeout: 2 * time.Second,
	}), server
}

func TestDirectionForTarget(t *testing.T) {
	tests := []struct {
		lang     string
		expected string
	}{
		{"fa", DirectionRTL},
		{"fa-IR", DirectionRTL},
		{"FA", DirectionRTL},
		{"ar", DirectionRTL},
		{"he", DirectionRTL},
		{"en", DirectionLTR},
		{"es", DirectionLTR},
		{"de-AT", DirectionLTR},
		{"not a tag", DirectionLTR},
		{"", DirectionLTR},
	}

	for _, tt := range tests {
		if got := DirectionForTarget(tt.lang); got != tt.expected {
			t.Errorf("DirectionForTarget(%q) = %s, want %s", tt.lang, got, tt.expected)
		}
	}
}

func TestSubmit_SeedsSnapshot(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart form: %v", err)
		}
		if r.FormValue("from_lang") != "en" || r.FormValue("to_lang") != "es" {
			t.Errorf("unexpected language fields: %q -> %q", r.FormValue("from_lang"), r.FormValue("to_lang"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"processId": "proc-1",
			"status":    "pending",
		})
	}), nil)

	receipt, err := svc.Submit(context.Background(), Upload{
		FileName:   "report.pdf",
		Content:    strings.NewReader("%PDF-1.4 fake"),
		Size:       2 << 20,
		SourceLang: "en",
		TargetLang: "es",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if receipt.ProcessID != "proc-1" {
		t.Errorf("expected process id proc-1, got %s", receipt.ProcessID)
	}

	snap, ok, _ := svc.Store().Get(context.Background(), "proc-1")
	if !ok {
		t.Fatal("expected a seeded snapshot after submission")
	}
	if snap.Status != StatusPending || snap.Progress != 0 {
		t.Errorf("expected pending/0 seed, got %s/%d", snap.Status, snap.Progress)
	}
}

func TestSubmit_Validation(t *testing.T) {
	var requests int32
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}), nil)

	tests := []struct {
		name string
		up   Upload
	}{
		{"missing file", Upload{SourceLang: "en", TargetLang: "es"}},
		{"missing file name", Upload{Content: strings.NewReader("x"), SourceLang: "en", TargetLang: "es"}},
		{"missing source lang", Upload{FileName: "a.pdf", Content: strings.NewReader("x"), TargetLang: "es"}},
		{"missing target lang", Upload{FileName: "a.pdf", Content: strings.NewReader("x"), SourceLang: "en"}},
	}

	for _, tt := range tests {
		_, err := svc.Submit(context.Background(), tt.up)
		appErr, ok := err.(*apperrors.AppError)
		if !ok || appErr.Code != apperrors.CodeValidationError {
			t.Errorf("%s: expected validation error, got %v", tt.name, err)
		}
	}

	if n := atomic.LoadInt32(&requests); n != 0 {
		t.Errorf("validation failures must not reach the network, saw %d requests", n)
	}
}

func TestSubmit_FileTooLarge(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}), nil)

	_, err := svc.Submit(context.Background(), Upload{
		FileName:   "huge.pdf",
		Content:    strings.NewReader("x"),
		SourceLang: "en",
		TargetLang: "es",
	})
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Code != apperrors.CodeFileTooLarge {
		t.Fatalf("expected FILE_TOO_LARGE, got %v", err)
	}
	if !strings.Contains(appErr.Message, "MB") {
		t.Errorf("message should name the size ceiling, got %q", appErr.Message)
	}
}

func TestCheckStatus_ConfirmedUpdatesSnapshot(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "in_progress",
			"progress":    40,
			"currentPage": 3,
			"totalPages":  9,
		})
	}), nil)

	snap, err := svc.CheckStatus(context.Background(), "proc-2")
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if snap.Fallback {
		t.Error("confirmed snapshot must not carry the fallback flag")
	}
	if snap.Status != StatusInProgress || snap.Progress != 40 {
		t.Errorf("unexpected snapshot: %s/%d", snap.Status, snap.Progress)
	}

	cached, ok, _ := svc.Store().Get(context.Background(), "proc-2")
	if !ok || cached.Progress != 40 {
		t.Errorf("expected cached snapshot at 40%%, got %+v (found=%v)", cached, ok)
	}
}

func TestCheckStatus_FallbackOn503(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil)

	// Seed a confirmed snapshot first.
	svc.Store().Put(context.Background(), StatusSnapshot{
		ProcessID: "proc-3",
		Status:    StatusInProgress,
		Progress:  60,
	})

	snap, err := svc.CheckStatus(context.Background(), "proc-3")
	if err != nil {
		t.Fatalf("transient failure should not surface an error, got %v", err)
	}
	if !snap.Fallback {
		t.Error("expected the fallback flag on a synthesized snapshot")
	}
	if snap.Status != StatusInProgress || snap.Progress != 60 {
		t.Errorf("fallback should echo the last confirmed snapshot, got %s/%d", snap.Status, snap.Progress)
	}
}

func TestCheckStatus_FallbackWithoutHistory(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}), nil)

	snap, err := svc.CheckStatus(context.Background(), "proc-unseen")
	if err != nil {
		t.Fatalf("transient failure should not surface an error, got %v", err)
	}
	if !snap.Fallback || snap.Status != StatusPending || snap.Progress != 0 {
		t.Errorf("expected default pending/0 fallback, got %+v", snap)
	}
}

func TestCheckStatus_NotFoundIsTerminal(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), nil)

	_, err := svc.CheckStatus(context.Background(), "proc-4")
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Code != apperrors.CodeProcessExpired {
		t.Fatalf("expected PROCESS_EXPIRED, got %v", err)
	}
}

func TestCheckStatus_AuthRetryOnce(t *testing.T) {
	// Scenario: 401 once, then 200. Exactly one refresh, successful update.
	var statusCalls, refreshCalls int32
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&statusCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "in_progress", "progress": 55})
	}), func(ctx context.Context) error {
		atomic.AddInt32(&refreshCalls, 1)
		return nil
	})

	snap, err := svc.CheckStatus(context.Background(), "proc-5")
	if err != nil {
		t.Fatalf("expected success after one auth retry, got %v", err)
	}
	if snap.Progress != 55 || snap.Fallback {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Errorf("expected exactly 1 token refresh, got %d", n)
	}
	if n := atomic.LoadInt32(&statusCalls); n != 2 {
		t.Errorf("expected exactly 2 status requests, got %d", n)
	}
}

func TestCheckStatus_RepeatedAuthFailureSurfaces(t *testing.T) {
	var refreshCalls int32
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), func(ctx context.Context) error {
		atomic.AddInt32(&refreshCalls, 1)
		return nil
	})

	_, err := svc.CheckStatus(context.Background(), "proc-6")
	if !apperrors.IsAuthError(err) {
		t.Fatalf("expected an auth error after the single retry, got %v", err)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Errorf("expected exactly 1 refresh attempt, got %d", n)
	}
}

func TestCheckStatus_Dedup(t *testing.T) {
	// Two simultaneous checks for the same process must share one request.
	var requests int32
	release := make(chan struct{})
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		<-release
		json.NewEncoder(w).Encode(map[string]any{"status": "in_progress", "progress": 10})
	}), nil)

	var wg sync.WaitGroup
	results := make([]StatusSnapshot, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := svc.CheckStatus(context.Background(), "proc-7")
			if err != nil {
				t.Errorf("CheckStatus failed: %v", err)
				return
			}
			results[i] = snap
		}(i)
	}

	// Give both goroutines time to reach the dedup gate, then release.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("expected exactly 1 network request, got %d", n)
	}
	if results[0].Progress != results[1].Progress {
		t.Errorf("concurrent callers saw different snapshots: %+v vs %+v", results[0], results[1])
	}

	// A later check issues a fresh request.
	if _, err := svc.CheckStatus(context.Background(), "proc-7"); err != nil {
		t.Fatalf("follow-up CheckStatus failed: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Errorf("expected a new request after the in-flight window, got %d total", n)
	}
}

func TestFetchResult_NotReadyThenSuccess(t *testing.T) {
	var calls int32
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"not yet complete"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"translatedText": "<p>hola</p>",
			"direction":      "ltr",
			"metadata": map[string]any{
				"originalFileName": "report.pdf",
				"currentPage":      9,
				"totalPages":       9,
			},
		})
	}), nil)

	_, err := svc.FetchResult(context.Background(), "proc-8")
	if !apperrors.IsNotReady(err) {
		t.Fatalf("expected NOT_READY on the first fetch, got %v", err)
	}

	res, err := svc.FetchResult(context.Background(), "proc-8")
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if res.TranslatedText != "<p>hola</p>" {
		t.Errorf("unexpected result text: %q", res.TranslatedText)
	}
	if res.Metadata.OriginalFileName != "report.pdf" {
		t.Errorf("unexpected metadata: %+v", res.Metadata)
	}

	snap, ok, _ := svc.Store().Get(context.Background(), "proc-8")
	if !ok || snap.Status != StatusCompleted || snap.Progress != 100 {
		t.Errorf("expected completed/100 snapshot after result fetch, got %+v", snap)
	}
}

func TestExport_BubblesServerMessage(t *testing.T) {
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"renderer crashed"}`))
	}), nil)

	_, err := svc.ExportPDF(context.Background(), ExportRequest{Text: "<p>x</p>", FileName: "out.pdf"})
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Code != apperrors.CodeExportError {
		t.Fatalf("expected EXPORT_ERROR, got %v", err)
	}
	if !strings.Contains(appErr.Message, "renderer crashed") {
		t.Errorf("expected the server message to bubble, got %q", appErr.Message)
	}
}

func TestExportToDrive_SetsDriveFlag(t *testing.T) {
	var gotBody ExportRequest
	svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"fileId": "drive-123"})
	}), nil)

	file, err := svc.ExportToDriveAsDocx(context.Background(), ExportRequest{
		Text:     "<p>x</p>",
		FileName: "out.docx",
		FolderID: "folder-9",
	})
	if err != nil {
		t.Fatalf("drive export failed: %v", err)
	}
	if !gotBody.SaveToGoogleDrive {
		t.Error("expected saveToGoogleDrive to be set on drive exports")
	}
	if gotBody.FolderID != "folder-9" {
		t.Errorf("expected folder id to pass through, got %q", gotBody.FolderID)
	}
	if file.FileID != "drive-123" {
		t.Errorf("unexpected drive file id: %q", file.FileID)
	}
}
