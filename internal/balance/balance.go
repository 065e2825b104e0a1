// Package balance reads and mutates the page balance for the current account.
// Reads degrade through a three-tier fallback chain so billing information is
// always available even when the primary endpoint is down.
package balance

import (
	"context"
	"net/http"
	"time"

	"github.com/opentranslator/client/internal/apperrors"
	"github.com/opentranslator/client/internal/httpclient"
	"github.com/opentranslator/client/internal/logger"
)

const requestTimeout = 10 * time.Second

// Snapshot is the page balance at a point in time
type Snapshot struct {
	PagesBalance int    `json:"pagesBalance"`
	PagesUsed    int    `json:"pagesUsed"`
	LastUsed     string `json:"lastUsed,omitempty"`
	UserID       string `json:"userId,omitempty"`

	// Source records which tier produced the snapshot: "me", "debug",
	// "public" or "default".
	Source string `json:"-"`
}

// Remaining returns the pages still available
func (s Snapshot) Remaining() int {
	return s.PagesBalance - s.PagesUsed
}

// debugResponse is the diagnostic endpoint payload. Its balance is only
// trustworthy for an authenticated, non-anonymous session.
type debugResponse struct {
	Authenticated bool     `json:"authenticated"`
	Anonymous     bool     `json:"anonymous"`
	Balance       Snapshot `json:"balance"`
}

// Payment holds invoice details returned by a page purchase
type Payment struct {
	OrderID     string  `json:"orderId"`
	Pages       int     `json:"pages"`
	Amount      float64 `json:"amount"`
	BankAccount string  `json:"bankAccount"`
}

// Service reads and mutates the account page balance
type Service struct {
	api     *httpclient.Client
	refresh apperrors.RefreshFunc
	log     *logger.Logger
}

// NewService creates a balance service. refresh may be nil when no credential
// refresh is available.
func NewService(api *httpclient.Client, refresh apperrors.RefreshFunc) *Service {
	return &Service{
		api:     api,
		refresh: refresh,
		log:     logger.Default().WithComponent("balance"),
	}
}

// defaultSnapshot is returned when every tier is unreachable. Ten free pages
// matches the allowance every new account starts with.
func defaultSnapshot() Snapshot {
	return Snapshot{PagesBalance: 10, PagesUsed: 0, Source: "default"}
}

// GetBalance resolves the current balance through the fallback chain: the
// authenticated endpoint first, then the diagnostic endpoint when it reports
// an authenticated non-anonymous session, then the public endpoint. If the
// whole chain fails it returns a hardcoded default rather than an error, so
// balance display never blocks on backend availability.
func (s *Service) GetBalance(ctx context.Context) (Snapshot, error) {
	snap, err := s.fetchMe(ctx)
	if err == nil {
		snap.Source = "me"
		return snap, nil
	}
	s.log.Warn(ctx, "authenticated balance read failed, trying diagnostic endpoint", map[string]any{
		"error": err.Error(),
	})

	snap, ok, derr := s.fetchDebug(ctx)
	if derr == nil && ok {
		snap.Source = "debug"
		return snap, nil
	}
	if derr != nil {
		s.log.Warn(ctx, "diagnostic balance read failed, trying public endpoint", map[string]any{
			"error": derr.Error(),
		})
	}

	snap, perr := s.fetchPublic(ctx)
	if perr == nil {
		snap.Source = "public"
		return snap, nil
	}
	s.log.Warn(ctx, "all balance endpoints unreachable, using default snapshot", map[string]any{
		"error": perr.Error(),
	})

	return defaultSnapshot(), nil
}

// fetchMe reads the authenticated balance endpoint with the standard single
// auth retry.
func (s *Service) fetchMe(ctx context.Context) (Snapshot, error) {
	return apperrors.WithAuthRetry(ctx, s.refresh, func(ctx context.Context) (Snapshot, error) {
		resp, err := s.api.Do(ctx, http.MethodGet, "/balance/me/balance",
			httpclient.WithTimeout(requestTimeout))
		if err != nil {
			return Snapshot{}, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return Snapshot{}, apperrors.Unauthorized("balance read rejected")
		}
		if !resp.OK() {
			return Snapshot{}, apperrors.FromStatus(resp.StatusCode, resp.ServerMessage())
		}

		var snap Snapshot
		if err := resp.Decode(&snap); err != nil {
			return Snapshot{}, apperrors.BalanceError("unreadable balance response").WithCause(err)
		}
		return snap, nil
	})
}

// fetchDebug reads the diagnostic endpoint. The boolean reports whether the
// payload is usable: the session must be authenticated and not anonymous.
func (s *Service) fetchDebug(ctx context.Context) (Snapshot, bool, error) {
	resp, err := s.api.Do(ctx, http.MethodGet, "/balance/debug/balance",
		httpclient.WithTimeout(requestTimeout))
	if err != nil {
		return Snapshot{}, false, err
	}
	if !resp.OK() {
		return Snapshot{}, false, apperrors.FromStatus(resp.StatusCode, resp.ServerMessage())
	}

	var debug debugResponse
	if err := resp.Decode(&debug); err != nil {
		return Snapshot{}, false, apperrors.BalanceError("unreadable diagnostic response").WithCause(err)
	}
	if !debug.Authenticated || debug.Anonymous {
		return Snapshot{}, false, nil
	}
	return debug.Balance, true, nil
}

// fetchPublic reads the unauthenticated public balance endpoint
func (s *Service) fetchPublic(ctx context.Context) (Snapshot, error) {
	resp, err := s.api.Do(ctx, http.MethodGet, "/balance/public/balance",
		httpclient.WithTimeout(requestTimeout))
	if err != nil {
		return Snapshot{}, err
	}
	if !resp.OK() {
		return Snapshot{}, apperrors.FromStatus(resp.StatusCode, resp.ServerMessage())
	}

	var snap Snapshot
	if err := resp.Decode(&snap); err != nil {
		return Snapshot{}, apperrors.BalanceError("unreadable public balance response").WithCause(err)
	}
	return snap, nil
}

// AddPages credits n pages to the account
func (s *Service) AddPages(ctx context.Context, pages int) (Snapshot, error) {
	if pages <= 0 {
		return Snapshot{}, apperrors.ValidationError("pages must be positive")
	}

	return apperrors.WithAuthRetry(ctx, s.refresh, func(ctx context.Context) (Snapshot, error) {
		resp, err := s.api.Do(ctx, http.MethodPost, "/balance/add-pages",
			httpclient.WithTimeout(requestTimeout),
			httpclient.WithJSON(map[string]int{"pages": pages}))
		if err != nil {
			return Snapshot{}, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return Snapshot{}, apperrors.Unauthorized("add pages rejected")
		}
		if !resp.OK() {
			return Snapshot{}, apperrors.FromStatus(resp.StatusCode, resp.ServerMessage())
		}

		var snap Snapshot
		if err := resp.Decode(&snap); err != nil {
			return Snapshot{}, apperrors.BalanceError("unreadable add-pages response").WithCause(err)
		}
		snap.Source = "me"
		return snap, nil
	})
}

// PurchasePages orders n pages and returns the payment details to display
func (s *Service) PurchasePages(ctx context.Context, pages int, email string) (Payment, error) {
	if pages <= 0 {
		return Payment{}, apperrors.ValidationError("pages must be positive")
	}
	if email == "" {
		return Payment{}, apperrors.ValidationError("email is required for purchase")
	}

	return apperrors.WithAuthRetry(ctx, s.refresh, func(ctx context.Context) (Payment, error) {
		resp, err := s.api.Do(ctx, http.MethodPost, "/balance/purchase/pages",
			httpclient.WithTimeout(requestTimeout),
			httpclient.WithJSON(map[string]any{"pages": pages, "email": email}))
		if err != nil {
			return Payment{}, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return Payment{}, apperrors.Unauthorized("purchase rejected")
		}
		if !resp.OK() {
			return Payment{}, apperrors.FromStatus(resp.StatusCode, resp.ServerMessage())
		}

		var out struct {
			Payment Payment `json:"payment"`
		}
		if err := resp.Decode(&out); err != nil {
			return Payment{}, apperrors.BalanceError("unreadable purchase response").WithCause(err)
		}
		return out.Payment, nil
	})
}
