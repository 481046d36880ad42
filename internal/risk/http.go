package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"solana-liquidator/internal/domain"
)

const (
	defaultScorerTimeout = 5 * time.Second
	defaultScorerRetries = 2
	defaultRetryDelay    = 200 * time.Millisecond
)

// HTTPScorer calls a JSON scorer service. One POST per obligation; transport
// failures are retried with backoff, scoring failures (non-2xx) are not.
type HTTPScorer struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// ScorerOption configures an HTTPScorer.
type ScorerOption func(*HTTPScorer)

// WithScorerTimeout sets the per-request timeout.
func WithScorerTimeout(d time.Duration) ScorerOption {
	return func(s *HTTPScorer) {
		s.httpClient.Timeout = d
	}
}

// WithScorerRetries sets the transport retry count.
func WithScorerRetries(n int) ScorerOption {
	return func(s *HTTPScorer) {
		s.maxRetries = n
	}
}

// NewHTTPScorer creates a scorer client for the given endpoint.
func NewHTTPScorer(endpoint string, opts ...ScorerOption) *HTTPScorer {
	s := &HTTPScorer{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultScorerTimeout},
		maxRetries: defaultScorerRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// scoreRequest is the wire shape of one scoring call. The scorer resolves
// oracle prices and decodes obligation state on its side.
type scoreRequest struct {
	Obligation        string   `json:"obligation"`
	Market            string   `json:"market"`
	RepayReserve      string   `json:"repay_reserve"`
	CollateralReserve string   `json:"collateral_reserve"`
	DepositReserves   []string `json:"deposit_reserves,omitempty"`
	BorrowReserves    []string `json:"borrow_reserves,omitempty"`
}

// Score fetches one score from the service.
func (s *HTTPScorer) Score(ctx context.Context, p *domain.Plan) (*Score, error) {
	body, err := json.Marshal(scoreRequest{
		Obligation:        p.Obligation,
		Market:            p.Market,
		RepayReserve:      p.RepayReservePubkey,
		CollateralReserve: p.CollateralReservePubkey,
		DepositReserves:   p.DepositReserves,
		BorrowReserves:    p.BorrowReserves,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryDelay * time.Duration(attempt)):
			}
		}

		score, err := s.scoreOnce(ctx, body)
		if err == nil {
			return score, nil
		}
		lastErr = err

		// A non-2xx answer is the scorer's verdict, not a transport
		// hiccup; retrying would repeat it.
		var se *statusError
		if errors.As(err, &se) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("score %s after %d attempts: %w", p.Obligation, s.maxRetries+1, lastErr)
}

func (s *HTTPScorer) scoreOnce(ctx context.Context, body []byte) (*Score, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post score request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read score response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: string(raw)}
	}

	var score Score
	if err := json.Unmarshal(raw, &score); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	return &score, nil
}

// statusError is a non-2xx scorer answer.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("scorer returned %d: %s", e.code, e.body)
}

var _ Scorer = (*HTTPScorer)(nil)
