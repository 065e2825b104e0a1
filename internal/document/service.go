package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/opentranslator/client/internal/apperrors"
	"github.com/opentranslator/client/internal/httpclient"
	"github.com/opentranslator/client/internal/logger"
	"github.com/opentranslator/client/internal/metrics"
)

const (
	DefaultSubmitTimeout      = 60 * time.Second
	DefaultLargeSubmitTimeout = 90 * time.Second
	DefaultLargeFileThreshold = 10 << 20
	DefaultStatusTimeout      = 8 * time.Second
	DefaultResultTimeout      = 15 * time.Second

	uploadLimitMB = 50
)

// ServiceConfig holds per-operation timeouts and the large-file threshold
type ServiceConfig struct {
	SubmitTimeout      time.Duration
	LargeSubmitTimeout time.Duration
	LargeFileThreshold int64
	StatusTimeout      time.Duration
	ResultTimeout      time.Duration
}

func (c *ServiceConfig) withDefaults() {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.LargeSubmitTimeout <= 0 {
		c.LargeSubmitTimeout = DefaultLargeSubmitTimeout
	}
	if c.LargeFileThreshold <= 0 {
		c.LargeFileThreshold = DefaultLargeFileThreshold
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = DefaultStatusTimeout
	}
	if c.ResultTimeout <= 0 {
		c.ResultTimeout = DefaultResultTimeout
	}
}

// Service talks to the translation backend. Status and result fetches are
// de-duplicated per process ID: a second caller arriving while a request is
// in flight shares the pending outcome instead of issuing its own.
type Service struct {
	api     *httpclient.Client
	store   SnapshotStore
	refresh apperrors.RefreshFunc
	cfg     ServiceConfig
	log     *logger.Logger

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

type inflightCall struct {
	done chan struct{}
	snap StatusSnapshot
	res  *Result
	err  error
}

// NewService creates a document service. refresh is invoked for the single
// token-clearing retry after a confirmed 401; it may be nil.
func NewService(api *httpclient.Client, store SnapshotStore, refresh apperrors.RefreshFunc, cfg ServiceConfig) *Service {
	cfg.withDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	return &Service{
		api:      api,
		store:    store,
		refresh:  refresh,
		cfg:      cfg,
		log:      logger.Default().WithComponent("document"),
		inflight: make(map[string]*inflightCall),
	}
}

// Store exposes the snapshot store shared with the poll loop
func (s *Service) Store() SnapshotStore {
	return s.store
}

// Upload describes a document submission
type Upload struct {
	FileName   string
	Content    io.Reader
	Size       int64
	SourceLang string
	TargetLang string
}

// Submit uploads a document for translation. Only presence is validated
// client-side; deeper validation happens server-side. Files above the
// large-file threshold get the longer submission timeout.
func (s *Service) Submit(ctx context.Context, up Upload) (*SubmitReceipt, error) {
	if up.Content == nil || up.FileName == "" {
		return nil, apperrors.ValidationError("no file selected")
	}
	if up.SourceLang == "" || up.TargetLang == "" {
		return nil, apperrors.ValidationError("source and target languages are required")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", up.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, up.Content); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if err := writer.WriteField("from_lang", up.SourceLang); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.WriteField("to_lang", up.TargetLang); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}

	timeout := s.cfg.SubmitTimeout
	if up.Size > s.cfg.LargeFileThreshold {
		timeout = s.cfg.LargeSubmitTimeout
	}

	receipt, err := apperrors.WithAuthRetry(ctx, s.refresh, func(ctx context.Context) (*SubmitReceipt, error) {
		resp, err := s.api.Do(ctx, http.MethodPost, "/documents/translate",
			httpclient.WithBody(bytes.NewReader(buf.Bytes()), writer.FormDataContentType()),
			httpclient.WithTimeout(timeout),
		)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusRequestEntityTooLarge {
			return nil, apperrors.FileTooLarge(uploadLimitMB)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, apperrors.Unauthorized(resp.ServerMessage())
		}
		if !resp.OK() {
			return nil, apperrors.FromStatus(resp.StatusCode, resp.ServerMessage())
		}

		var receipt SubmitReceipt
		if err := resp.Decode(&receipt); err != nil {
			return nil, err
		}
		if receipt.ProcessID == "" {
			return nil, apperrors.InternalError("server did not return a process id")
		}
		return &receipt, nil
	})
	if err != nil {
		return nil, err
	}

	if receipt.Status == "" {
		receipt.Status = StatusPending
	}

	// Seed the snapshot store so a fallback is available from the first poll.
	s.putSnapshot(ctx, StatusSnapshot{
		ProcessID:  receipt.ProcessID,
		Status:     receipt.Status,
		Progress:   0,
		ObservedAt: time.Now(),
	})

	s.log.Info(ctx, "translation submitted", map[string]interface{}{
		"process_id": receipt.ProcessID,
		"file_name":  up.FileName,
		"size_bytes": up.Size,
	})

	return receipt, nil
}

// CheckStatus polls the backend for a job's status. Transient failures
// (timeouts, unreachable network, gateway-style 5xx) return a synthesized
// fallback snapshot instead of an error so the poll loop stays alive; the
// snapshot carries Fallback=true so callers can count the miss. A confirmed
// 401 gets exactly one token-clearing retry. A 404 means the process has
// expired and is not retryable.
func (s *Service) CheckStatus(ctx context.Context, processID string) (StatusSnapshot, error) {
	if processID == "" {
		return StatusSnapshot{}, apperrors.ValidationError("process id is required")
	}

	return s.dedupStatus(ctx, "status:"+processID, func() (StatusSnapshot, error) {
		snap, err := apperrors.WithAuthRetry(ctx, s.refresh, func(ctx context.Context) (StatusSnapshot, error) {
			return s.fetchStatus(ctx, processID)
		})
		if err == nil {
			s.putSnapshot(ctx, snap)
			return snap, nil
		}

		if apperrors.IsTerminalStatus(err) || apperrors.IsAuthError(err) {
			return StatusSnapshot{}, err
		}

		if apperrors.IsTransient(err) {
			fallback := s.fallbackSnapshot(ctx, processID)
			metrics.Default().IncCounter("status_fallbacks_total")
			s.log.Warn(ctx, "status check failed, returning fallback snapshot", map[string]interface{}{
				"process_id": processID,
				"reason":     err.Error(),
			})
			return fallback, nil
		}

		return StatusSnapshot{}, err
	})
}

// fetchStatus performs one status request
func (s *Service) fetchStatus(ctx context.Context, processID string) (StatusSnapshot, error) {
	resp, err := s.api.Do(ctx, http.MethodGet, "/documents/status/"+processID,
		httpclient.WithTimeout(s.cfg.StatusTimeout),
	)
	if err != nil {
		return StatusSnapshot{}, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return StatusSnapshot{}, apperrors.Unauthorized(resp.ServerMessage())
	case resp.StatusCode == http.StatusNotFound:
		return StatusSnapshot{}, apperrors.ProcessExpired(processID)
	case resp.StatusCode == http.StatusAccepted:
		// Still warming up; treated like a transient miss.
		return StatusSnapshot{}, apperrors.InternalError("backend is still warming up")
	case apperrors.RetryableHTTPStatus(resp.StatusCode):
		return StatusSnapshot{}, apperrors.FromStatus(resp.StatusCode, resp.ServerMessage())
	case !resp.OK():
		return StatusSnapshot{}, apperrors.FromStatus(resp.StatusCode, resp.ServerMessage())
	}

	var body struct {
		Status      string `json:"status"`
		Progress    int    `json:"progress"`
		CurrentPage int    `json:"currentPage"`
		TotalPages  int    `json:"totalPages"`
	}
	if err := resp.Decode(&body); err != nil {
		return StatusSnapshot{}, err
	}
	if body.Status == "" {
		body.Status = StatusPending
	}

	return StatusSnapshot{
		ProcessID:   processID,
		Status:      body.Status,
		Progress:    body.Progress,
		CurrentPage: body.CurrentPage,
		TotalPages:  body.TotalPages,
		ObservedAt:  time.Now(),
	}, nil
}

// fallbackSnapshot returns the last confirmed snapshot for the process, or a
// default pending/0% one when nothing has been observed yet, tagged Fallback.
func (s *Service) fallbackSnapshot(ctx context.Context, processID string) StatusSnapshot {
	snap, ok, err := s.store.Get(ctx, processID)
	if err != nil || !ok {
		snap = StatusSnapshot{
			ProcessID: processID,
			Status:    StatusPending,
			Progress:  0,
		}
	}
	snap.Fallback = true
	snap.ObservedAt = time.Now()
	return snap
}

// FetchResult retrieves a finished translation. De-duplicated like status
// checks. A 400 means the result is not ready yet; callers resume polling.
func (s *Service) FetchResult(ctx context.Context, processID string) (*Result, error) {
	if processID == "" {
		return nil, apperrors.ValidationError("process id is required")
	}

	return s.dedupResult(ctx, "result:"+processID, func() (*Result, error) {
		res, err := apperrors.WithAuthRetry(ctx, s.refresh, func(ctx context.Context) (*Result, error) {
			return s.fetchResult(ctx, processID)
		})
		if err != nil {
			return nil, err
		}

		s.putSnapshot(ctx, StatusSnapshot{
			ProcessID:   processID,
			Status:      StatusCompleted,
			Progress:    100,
			CurrentPage: res.Metadata.CurrentPage,
			TotalPages:  res.Metadata.TotalPages,
			ObservedAt:  time.Now(),
		})
		return res, nil
	})
}

// fetchResult performs one result request
func (s *Service) fetchResult(ctx context.Context, processID string) (*Result, error) {
	resp, err := s.api.Do(ctx, http.MethodGet, "/documents/result/"+processID,
		httpclient.WithTimeout(s.cfg.ResultTimeout),
	)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperrors.Unauthorized(resp.ServerMessage())
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.ProcessExpired(processID)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, apperrors.NotReady(processID)
	case !resp.OK():
		return nil, apperrors.FromStatus(resp.StatusCode, resp.ServerMessage())
	}

	var res Result
	if err := resp.Decode(&res); err != nil {
		return nil, err
	}
	if res.Direction == "" {
		res.Direction = DirectionLTR
	}
	return &res, nil
}

// putSnapshot stores a snapshot, logging store failures instead of failing
// the operation: losing a cached snapshot only degrades fallback quality.
func (s *Service) putSnapshot(ctx context.Context, snap StatusSnapshot) {
	if err := s.store.Put(ctx, snap); err != nil {
		s.log.Warn(ctx, "failed to cache status snapshot", map[string]interface{}{
			"process_id": snap.ProcessID,
			"reason":     err.Error(),
		})
	}
}

// dedupStatus shares one in-flight status request among concurrent callers
func (s *Service) dedupStatus(ctx context.Context, key string, fn func() (StatusSnapshot, error)) (StatusSnapshot, error) {
	s.mu.Lock()
	if call, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		metrics.Default().IncCounter("request_dedup_hits_total")
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return StatusSnapshot{}, ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	call.snap, call.err = fn()

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	close(call.done)

	return call.snap, call.err
}

// dedupResult shares one in-flight result request among concurrent callers
func (s *Service) dedupResult(ctx context.Context, key string, fn func() (*Result, error)) (*Result, error) {
	s.mu.Lock()
	if call, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		metrics.Default().IncCounter("request_dedup_hits_total")
		select {
		case <-call.done:
			return call.res, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	call.res, call.err = fn()

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	close(call.done)

	return call.res, call.err
}
